package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"visitorpass/internal/audit"
	"visitorpass/internal/platform/kafka"
	"visitorpass/internal/platform/logger"
)

type auditOptions struct {
	group     string
	visitorID string
	category  string
}

// NewAuditCommand groups audit trail commands.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(newAuditTailCommand(opts))
	return cmd
}

func newAuditTailCommand(opts *RootOptions) *cobra.Command {
	aopts := &auditOptions{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream audit events from Kafka until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is not set")
			}
			log := logger.NewWithWriter(cmd.ErrOrStderr(), "text", "warn")
			consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, aopts.group, []string{cfg.Kafka.AuditTopic}, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = consumer.Run(ctx, func(_ context.Context, msg *kafka.Message) error {
				event, err := audit.Decode(msg.Value)
				if err != nil {
					return err
				}
				if !aopts.matches(event) {
					return nil
				}
				return printEvent(out, opts, event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&aopts.group, "group", "visitorctl-tail", "consumer group")
	cmd.Flags().StringVar(&aopts.visitorID, "visitor", "", "only events for this visitor id")
	cmd.Flags().StringVar(&aopts.category, "category", "", "only events in this category (compliance|security|operations)")
	return cmd
}

func (o *auditOptions) matches(e audit.Event) bool {
	if o.visitorID != "" && e.VisitorID != o.visitorID {
		return false
	}
	if o.category != "" && string(e.Category) != o.category {
		return false
	}
	return true
}

func printEvent(w io.Writer, opts *RootOptions, e audit.Event) error {
	return emit(w, opts, e, func(w io.Writer) {
		fmt.Fprintf(w, "%s  %-10s %-20s visitor=%s actor=%s status=%s",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Category, e.Action, e.VisitorID, e.Actor, e.Status)
		if e.Reason != "" {
			fmt.Fprintf(w, " reason=%q", e.Reason)
		}
		fmt.Fprintln(w)
	})
}
