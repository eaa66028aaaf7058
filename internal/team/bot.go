package team

import (
	"context"
	"fmt"
)

// TaskOutcome is what a bot reports after executing a delegated task.
type TaskOutcome struct {
	Result     string   `json:"result"`
	Confidence float64  `json:"confidence"` // 0..1
	Learnings  []string `json:"learnings,omitempty"`
	FollowUps  []string `json:"follow_ups,omitempty"`
}

// Bot is the capability interface every team member implements.
type Bot interface {
	ID() string
	Card() RoleCard

	// ProcessMessage handles a conversational message and returns the
	// bot's reply text.
	ProcessMessage(ctx context.Context, message string) (string, error)

	// ExecuteTask performs a delegated unit of work.
	ExecuteTask(ctx context.Context, task string) (TaskOutcome, error)
}

// Strategy supplies the domain behavior for one role. One value type
// plus a strategy table replaces a subclass per specialist.
type Strategy struct {
	Process func(ctx context.Context, card RoleCard, message string) (string, error)
	Execute func(ctx context.Context, card RoleCard, task string) (TaskOutcome, error)
}

// Specialist is a bot realised as a role card plus a strategy.
type Specialist struct {
	card     RoleCard
	strategy Strategy
}

// NewSpecialist builds a bot from a role card and strategy. Missing
// strategy funcs fall back to a role-voiced default.
func NewSpecialist(card RoleCard, strategy Strategy) *Specialist {
	if strategy.Process == nil {
		strategy.Process = defaultProcess
	}
	if strategy.Execute == nil {
		strategy.Execute = defaultExecute
	}
	return &Specialist{card: card, strategy: strategy}
}

func (s *Specialist) ID() string     { return s.card.BotID }
func (s *Specialist) Card() RoleCard { return s.card }

func (s *Specialist) ProcessMessage(ctx context.Context, message string) (string, error) {
	return s.strategy.Process(ctx, s.card, message)
}

func (s *Specialist) ExecuteTask(ctx context.Context, task string) (TaskOutcome, error) {
	return s.strategy.Execute(ctx, s.card, task)
}

func defaultProcess(_ context.Context, card RoleCard, message string) (string, error) {
	return fmt.Sprintf("%s acknowledging: %s", card.Title, message), nil
}

func defaultExecute(_ context.Context, card RoleCard, task string) (TaskOutcome, error) {
	return TaskOutcome{
		Result:     fmt.Sprintf("%s handled: %s", card.Title, task),
		Confidence: 0.5,
	}, nil
}
