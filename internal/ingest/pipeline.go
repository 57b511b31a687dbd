package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rierra/LoanCentral/internal/delivery"
	"github.com/Rierra/LoanCentral/internal/domain/command"
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/Rierra/LoanCentral/internal/domain/reply"
	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/google/uuid"
)

// ErrDeliveryQueue marks a failure to queue the reply after the command was
// already committed. Callers must not run the command again.
var ErrDeliveryQueue = errors.New("delivery_queue")

type ParentComment struct {
	ID     string `json:"id,omitempty"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

type Post struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Title     string `json:"title"`
	Permalink string `json:"permalink,omitempty"`
}

// Event is one inbound comment with the context the parser needs.
type Event struct {
	CommentID string         `json:"comment_id"`
	Author    string         `json:"author"`
	Body      string         `json:"body"`
	Permalink string         `json:"permalink,omitempty"`
	Parent    *ParentComment `json:"parent,omitempty"`
	Post      Post           `json:"post"`
}

type Response struct {
	NoOp                  bool                `json:"no_op"`
	Command               command.Kind        `json:"command"`
	ReplyText             string              `json:"reply_text,omitempty"`
	ModeratorNotification *reply.Notification `json:"moderator_notification,omitempty"`
}

func noOp(kind command.Kind) Response {
	return Response{NoOp: true, Command: kind}
}

type Engine interface {
	Confirm(ctx context.Context, in ledger.ConfirmInput) (*ledger.ConfirmOutcome, error)
	Paid(ctx context.Context, in ledger.PaidInput) (*ledger.PaidOutcome, error)
	Refund(ctx context.Context, in ledger.RefundInput) (*ledger.RefundOutcome, error)
}

type Reporter interface {
	Snapshot(ctx context.Context, username string) (*report.Snapshot, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, topic string, payload []byte) (uuid.UUID, error)
}

type Pipeline struct {
	engine    Engine
	reporter  Reporter
	outbox    Outbox
	botName   string
	subreddit string
	logger    *slog.Logger
}

type Config struct {
	BotName   string
	Subreddit string
}

func NewPipeline(engine Engine, reporter Reporter, outbox Outbox, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		engine:    engine,
		reporter:  reporter,
		outbox:    outbox,
		botName:   strings.ToLower(strings.TrimSpace(cfg.BotName)),
		subreddit: cfg.Subreddit,
		logger:    logger,
	}
}

func (p *Pipeline) isBot(name string) bool {
	return p.botName != "" && strings.EqualFold(strings.TrimSpace(name), p.botName)
}

// HandleComment runs one comment through parse, ledger and render. Rejections
// become reply text; only store failures and timeouts are returned as errors.
func (p *Pipeline) HandleComment(ctx context.Context, ev Event) (Response, error) {
	if strings.TrimSpace(ev.Author) == "" || p.isBot(ev.Author) {
		return noOp(command.KindNoMatch), nil
	}

	in := command.Input{
		Body:       ev.Body,
		Author:     ev.Author,
		PostAuthor: ev.Post.Author,
		BotName:    p.botName,
	}
	if ev.Parent != nil {
		in.Parent = &command.Parent{Author: ev.Parent.Author, Body: ev.Parent.Body}
	}

	cmd := command.Parse(in)
	log := p.logger.With("comment_id", ev.CommentID, "author", ev.Author, "command", cmd.Kind())

	switch c := cmd.(type) {
	case command.NoMatch:
		switch c.Reason {
		case "":
		case command.ReasonSelfLoan:
			log.Warn("offer to self ignored")
		default:
			log.Debug("command dropped", "reason", c.Reason)
		}
		return noOp(command.KindNoMatch), nil

	case command.Offer:
		log.Info("loan offer seen", "lender", c.Lender, "borrower", c.Borrower, "amount", c.Amount.String(), "currency", c.Currency)
		return Response{Command: c.Kind(), ReplyText: reply.Offer(c)}, nil

	case command.Confirm:
		out, err := p.engine.Confirm(ctx, ledger.ConfirmInput{
			Lender:       c.Lender,
			Borrower:     c.Borrower,
			Amount:       c.Amount,
			Currency:     c.Currency,
			OriginSource: ev.Post.Permalink,
		})
		if err != nil {
			return p.failed(log, c.Kind(), err)
		}
		log.Info("loan confirmed", "loan_id", out.Loan.ID, "lender", out.Loan.Lender, "borrower", out.Loan.Borrower)
		return Response{Command: c.Kind(), ReplyText: reply.Confirm(out.Loan)}, nil

	case command.Paid:
		out, err := p.engine.Paid(ctx, ledger.PaidInput{
			LoanID:   c.LoanID,
			Lender:   c.Lender,
			Amount:   c.Amount,
			Currency: c.Currency,
		})
		if err != nil {
			return p.failed(log, c.Kind(), err)
		}
		log.Info("payment recorded", "loan_id", out.After.ID, "status", out.After.Status, "remaining", out.Remaining.String())
		return Response{Command: c.Kind(), ReplyText: reply.Paid(*out)}, nil

	case command.Refund:
		out, err := p.engine.Refund(ctx, ledger.RefundInput{
			Author:   c.Author,
			Lender:   c.Lender,
			Borrower: c.Borrower,
			Amount:   c.Amount,
			Currency: c.Currency,
		})
		if err != nil {
			return p.failed(log, c.Kind(), err)
		}
		log.Info("loan refunded", "loan_id", out.Loan.ID, "lender", out.Loan.Lender, "borrower", out.Loan.Borrower)
		notice := reply.ModeratorNotice(*out, ev.Permalink)
		return Response{Command: c.Kind(), ReplyText: reply.Refund(*out), ModeratorNotification: &notice}, nil

	case command.StatsQuery:
		snap, err := p.reporter.Snapshot(ctx, c.Username)
		if err != nil {
			log.Error("stats lookup failed", "user", c.Username, "err", err)
			return Response{}, fmt.Errorf("stats for %s: %w", c.Username, err)
		}
		return Response{Command: c.Kind(), ReplyText: reply.UserInfo(snap)}, nil
	}

	return noOp(cmd.Kind()), nil
}

func (p *Pipeline) failed(log *slog.Logger, kind command.Kind, err error) (Response, error) {
	if text, ok := reply.Rejection(err); ok {
		log.Warn("command rejected", "err", err)
		return Response{Command: kind, ReplyText: text}, nil
	}
	log.Error("command failed", "err", err)
	return Response{}, fmt.Errorf("%s command: %w", kind, err)
}

// HandlePost answers [REQ] posts with the author's ledger summary.
func (p *Pipeline) HandlePost(ctx context.Context, post Post) (Response, error) {
	if strings.TrimSpace(post.Author) == "" || p.isBot(post.Author) {
		return noOp(command.KindNoMatch), nil
	}
	if !strings.Contains(strings.ToLower(post.Title), "[req]") {
		return noOp(command.KindNoMatch), nil
	}

	snap, err := p.reporter.Snapshot(ctx, post.Author)
	if err != nil {
		p.logger.Error("user info lookup failed", "post_id", post.ID, "author", post.Author, "err", err)
		return Response{}, fmt.Errorf("user info for %s: %w", post.Author, err)
	}
	return Response{Command: command.KindStatsQuery, ReplyText: reply.UserInfo(snap)}, nil
}

// ProcessComment handles a streamed comment and queues its reply for delivery.
func (p *Pipeline) ProcessComment(ctx context.Context, ev Event) error {
	resp, err := p.HandleComment(ctx, ev)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, ev.CommentID, resp)
}

func (p *Pipeline) ProcessPost(ctx context.Context, post Post) error {
	resp, err := p.HandlePost(ctx, post)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, post.ID, resp)
}

// enqueue runs after the ledger commit. Its failures wrap ErrDeliveryQueue.
func (p *Pipeline) enqueue(ctx context.Context, parentID string, resp Response) error {
	if resp.NoOp {
		return nil
	}
	if resp.ReplyText != "" {
		payload, err := json.Marshal(delivery.Reply{ParentID: parentID, Text: resp.ReplyText})
		if err != nil {
			return fmt.Errorf("%w: encode reply: %w", ErrDeliveryQueue, err)
		}
		if _, err := p.outbox.Enqueue(ctx, jobs.TopicReply, payload); err != nil {
			p.logger.Error("reply enqueue failed", "parent_id", parentID, "err", err)
			return fmt.Errorf("%w: enqueue reply: %w", ErrDeliveryQueue, err)
		}
	}
	if resp.ModeratorNotification != nil {
		payload, err := json.Marshal(delivery.Modmail{Subreddit: p.subreddit, Notification: *resp.ModeratorNotification})
		if err != nil {
			return fmt.Errorf("%w: encode modmail: %w", ErrDeliveryQueue, err)
		}
		if _, err := p.outbox.Enqueue(ctx, jobs.TopicModmail, payload); err != nil {
			p.logger.Error("moderator notification enqueue failed", "parent_id", parentID, "err", err)
			return fmt.Errorf("%w: enqueue modmail: %w", ErrDeliveryQueue, err)
		}
	}
	return nil
}
