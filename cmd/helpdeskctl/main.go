// Command helpdeskctl performs operator tasks against the helpdesk stores:
// promoting users to staff roles, replaying ticket assignment and inspecting
// workflow outcomes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/observability"
	"github.com/openhelpdesk/ai-helpdesk/internal/persistence"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/service"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

const usage = `usage: helpdeskctl <command> [flags]

commands:
  promote   set a user's role and skills
  replay    re-emit ticket.created for an existing ticket
  status    print the recorded outcome of a workflow run
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "promote":
		return runPromote(rest, out)
	case "replay":
		return runReplay(rest, out)
	case "status":
		return runStatus(rest, out)
	case "-h", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runPromote(args []string, out io.Writer) error {
	var (
		email     string
		role      string
		skillTags []string
	)
	flagSet := pflag.NewFlagSet("helpdeskctl promote", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "email of the user to update (required)")
	flagSet.StringVar(&role, "role", string(domain.RoleModerator), "new role: user, moderator or admin")
	flagSet.StringSliceVar(&skillTags, "skills", nil, "comma separated skills; empty keeps the current list")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if email == "" {
		return errors.New("--email is required")
	}

	return withStores(func(ctx context.Context, env *environment) error {
		authService := service.NewAuthService(*env.cfg, service.AuthDependencies{
			UserRepo: repository.NewUserRepository(env.pg.PoolHandle()),
			Logger:   env.logger,
		})
		operator := &auth.Principal{Email: "helpdeskctl", Role: domain.RoleAdmin}
		user, err := authService.UpdateUser(ctx, operator, service.UpdateUserInput{
			Email:  email,
			Role:   domain.Role(strings.ToLower(role)),
			Skills: skillTags,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s is now %s (skills: %s)\n", user.Email, user.Role, strings.Join(user.Skills, ", "))
		return nil
	})
}

func runReplay(args []string, out io.Writer) error {
	var ticketID string
	flagSet := pflag.NewFlagSet("helpdeskctl replay", pflag.ContinueOnError)
	flagSet.StringVar(&ticketID, "ticket", "", "id of the ticket to re-run assignment for (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if ticketID == "" {
		return errors.New("--ticket is required")
	}

	return withStores(func(ctx context.Context, env *environment) error {
		if env.cfg.Events.Backend != config.EventsBackendRedis {
			return errors.New("replay needs EVENTS_BACKEND=redis; the memory bus lives inside the api process")
		}
		ticket, err := repository.NewTicketRepository(env.pg.PoolHandle()).GetByID(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("load ticket %s: %w", ticketID, err)
		}

		event, err := events.NewEvent(events.EventTicketCreated, events.TicketCreatedPayload{
			TicketID:    ticket.ID,
			Title:       ticket.Title,
			Description: ticket.Description,
			CreatedBy:   ticket.CreatedBy.ID,
		})
		if err != nil {
			return err
		}
		bus := events.NewRedisBus(env.redis.Client, redisBusConfig(env.cfg.Events), env.logger)
		if err := bus.Publish(ctx, event); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		fmt.Fprintf(out, "published %s %s for ticket %s\n", event.Type, event.ID, ticket.ID)
		return nil
	})
}

func runStatus(args []string, out io.Writer) error {
	var workflowName, eventID string
	flagSet := pflag.NewFlagSet("helpdeskctl status", pflag.ContinueOnError)
	flagSet.StringVar(&workflowName, "workflow", service.WorkflowTicketCreated, "workflow name")
	flagSet.StringVar(&eventID, "event", "", "id of the triggering event (required)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if eventID == "" {
		return errors.New("--event is required")
	}

	return withStores(func(ctx context.Context, env *environment) error {
		store := workflow.NewRedisStore(env.redis.Client, env.cfg.Workflow.ResultTTL())
		instance := workflow.InstanceID(workflowName, eventID)
		outcome, ok, err := store.Outcome(ctx, instance)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no outcome recorded for %s", instance)
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Instance string `json:"instance"`
			workflow.Outcome
		}{instance, outcome})
	})
}

type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	pg     *persistence.Postgres
	redis  *persistence.Redis
}

func withStores(fn func(ctx context.Context, env *environment) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(config.LoggerConfig{Level: "warn"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	return fn(ctx, &environment{cfg: cfg, logger: logger, pg: pg, redis: redis})
}

func redisBusConfig(cfg config.EventsConfig) events.RedisBusConfig {
	return events.RedisBusConfig{
		Stream:      cfg.Stream,
		Group:       cfg.Group,
		Consumer:    cfg.Consumer,
		Concurrency: cfg.WorkerConcurrency,
	}
}
