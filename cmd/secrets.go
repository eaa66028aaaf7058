package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"botfleet/internal/config"
	"botfleet/internal/secrets"
)

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage stored secrets",
	}
	cmd.AddCommand(secretsSetCmd())
	cmd.AddCommand(secretsListCmd())
	cmd.AddCommand(secretsDeleteCmd())
	return cmd
}

func openSecrets() (*secrets.Resolver, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Secrets.Backend == "file" {
		return secrets.NewResolver(secrets.NewFileStore(cfg.Secrets.FilePath)), nil
	}
	return secrets.NewResolver(secrets.NewKeyringStore()), nil
}

func secretsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret, value read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			r, err := openSecrets()
			if err != nil {
				return err
			}
			if !r.IsSymbolicRef("{{" + name + "}}") {
				return fmt.Errorf("invalid secret name %q: use lowercase letters, digits, - and _", name)
			}
			fmt.Fprint(os.Stderr, "Value: ")
			reader := bufio.NewReader(os.Stdin)
			value, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return fmt.Errorf("empty value")
			}
			if err := r.StoreKey(name, value); err != nil {
				return err
			}
			fmt.Printf("Stored. Reference it as {{%s}}\n", name)
			return nil
		},
	}
}

func secretsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secret names (never values)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openSecrets()
			if err != nil {
				return err
			}
			names, err := r.ListKeys()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No secrets stored.")
				return nil
			}
			for _, n := range names {
				fmt.Printf("{{%s}}\n", n)
			}
			return nil
		},
	}
}

func secretsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openSecrets()
			if err != nil {
				return err
			}
			if !r.DeleteKey(args[0]) {
				fmt.Fprintf(os.Stderr, "No secret named %s\n", args[0])
				return nil
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
}
