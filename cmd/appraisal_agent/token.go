package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/appraisal-agent/internal/config"
	"github.com/jonathan/appraisal-agent/internal/server"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	Long:  `Sign a JWT for the given user with JWT_SECRET. A random user ID is used when --user is omitted.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User ID to embed in the token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	user := uuid.New()
	if tokenUser != "" {
		parsed, err := uuid.Parse(tokenUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		user = parsed
	}

	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg, nil).GenerateToken(user)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "user: %s\n", user)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
