package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/kafka-control-plane/repositories/postgres"
	"github.com/upb/kafka-control-plane/services/audit"
	"github.com/upb/kafka-control-plane/services/policy"
)

const defaultCLIActor = "control-plane-cli"

func newPoliciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Validate and apply policy files",
	}
	cmd.AddCommand(newPoliciesValidateCmd())
	cmd.AddCommand(newPoliciesApplyCmd())
	return cmd
}

func newPoliciesValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a policy file without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := policy.LoadPolicyFile(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d policies valid\n", file, len(policies))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Policy file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPoliciesApplyCmd() *cobra.Command {
	var (
		file  string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or replace the policies of a file in one transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := policy.LoadPolicyFile(file)
			if err != nil {
				return err
			}

			cfg, logger, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return err
			}
			defer factory.Close()
			repos := factory.NewRepositories()

			auditService := audit.NewAuditService(repos.AuditLogs, logger, audit.DefaultConfig())
			if err := auditService.Start(); err != nil {
				return err
			}
			defer func() { _ = auditService.Stop(10 * time.Second) }()

			service := policy.NewPolicyService(repos.Policies, factory.GetTransactionManager(),
				policy.NewPolicyCache(cfg.Policy.CacheSize, cfg.Policy.CacheTTL), auditService, logger)

			applied, err := service.Apply(cmd.Context(), policies, actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d policies from %s\n", applied, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Policy file (YAML)")
	cmd.Flags().StringVar(&actor, "actor", defaultCLIActor, "Actor recorded in the audit log")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
