package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/querydesk/chat/internal/api"
	"github.com/querydesk/chat/internal/config"
	"github.com/querydesk/chat/internal/models"
	"github.com/querydesk/chat/internal/realtime"
	"github.com/querydesk/chat/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	conversationID := flag.String("conversation", "demo", "conversation id to open")
	participantID := flag.String("id", "agent-1", "participant id")
	name := flag.String("name", "Agent", "display name")
	role := flag.String("role", "AGENT", "participant role (CUSTOMER|AGENT|QA|TL|ADMIN)")
	gatewayURL := flag.String("gateway", cfg.GatewayURL, "gateway base URL")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Level(zerolog.WarnLevel).With().Str("service", "chatcli").Logger()

	participant := models.Participant{
		ID:          *participantID,
		Role:        models.Role(strings.ToUpper(*role)),
		DisplayName: *name,
	}

	wsURL := "ws" + strings.TrimPrefix(*gatewayURL, "http") + "/ws"
	manager := &realtime.Manager{URL: wsURL, Logger: logger}

	ctrl := session.New(session.Config{
		API:         &api.Client{BaseURL: *gatewayURL},
		Connector:   session.NewRealtimeConnector(manager),
		Participant: participant,
		Logger:      logger,
		OnUpdate:    render,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\n!! %v\n", err)
		},
		OnSnapshotRequest: func(by models.ParticipantRef) {
			fmt.Printf("\n** %s requested a camera snapshot **\n", by.DisplayName)
		},
	})

	ctx := context.Background()
	if err := ctrl.Open(ctx, *conversationID); err != nil {
		logger.Fatal().Err(err).Msg("failed to open conversation")
	}
	defer ctrl.Close()

	fmt.Println("commands: /resolve /accept /reject /escalate <id> <reason> /feedback <1-5> /snapshot /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/resolve":
			_ = ctrl.Resolve(ctx)
		case line == "/accept":
			if ctrl.View().Permissions.CanAccept {
				_ = ctrl.DecideTransfer(ctx, true)
			} else {
				_ = ctrl.Accept(ctx)
			}
		case line == "/reject":
			_ = ctrl.DecideTransfer(ctx, false)
		case line == "/snapshot":
			ctrl.RequestSnapshot()
		case strings.HasPrefix(line, "/escalate "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/escalate "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /escalate <participant-id> <reason>")
				continue
			}
			to := models.ParticipantRef{ID: parts[0], DisplayName: parts[0], Role: models.RoleAgent}
			_ = ctrl.Escalate(ctx, to, parts[1])
		case strings.HasPrefix(line, "/feedback "):
			rating, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/feedback ")))
			if err != nil {
				fmt.Println("usage: /feedback <1-5>")
				continue
			}
			_ = ctrl.SubmitFeedback(ctx, rating, "")
		default:
			ctrl.Typing()
			ctrl.SendMessage(ctx, line)
		}
	}
}

func render(view session.View) {
	fmt.Printf("\n--- %s [%s] ---\n", view.Conversation.ID, view.Conversation.Status)
	for _, msg := range view.Messages {
		name := msg.SenderName
		if name == "" {
			name = msg.SenderID
		}
		marker := ""
		if msg.Optimistic {
			marker = " (sending...)"
		}
		if url, ok := msg.MediaURL(); ok {
			fmt.Printf("[%s] %s: [image] %s%s\n", msg.Timestamp.Format("15:04:05"), name, url, marker)
			continue
		}
		fmt.Printf("[%s] %s: %s%s\n", msg.Timestamp.Format("15:04:05"), name, msg.Body, marker)
	}
	if len(view.TypingBy) > 0 {
		fmt.Printf("... %s typing\n", strings.Join(view.TypingBy, ", "))
	}
	if !view.Connected {
		fmt.Println("(connection lost, reconnecting...)")
	}
	if view.FeedbackRequested {
		fmt.Println("(rate this conversation with /feedback <1-5>)")
	}
	if len(view.Suggestions) > 0 {
		fmt.Printf("suggestions: %s\n", strings.Join(view.Suggestions, " | "))
	}
	fmt.Print("> ")
}
