// The moderator sidecar consumes accepted abuse reports from NATS, runs the
// content filter over the attached transcript, and pushes a ban action back
// to the relay when the reported user's own messages contain blocked content.
// It is stateless apart from the optional Redis offense counter.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairline/relay/internal/ban"
	"github.com/pairline/relay/internal/messaging"
	"github.com/pairline/relay/internal/moderation"
)

func main() {
	log.Println("Starting Pairline moderation service...")

	// Redis setup (optional) — backs the escalating offense counter so
	// repeated flags across relay instances share state.
	var bans *ban.Store
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Printf("redis unreachable, offense tracking disabled: %v", err)
			rdb.Close()
		} else {
			bans = ban.NewStore(rdb)
			defer rdb.Close()
		}
	} else {
		log.Printf("REDIS_ADDR not set, offense tracking disabled")
	}

	// NATS setup — required: without the bus there is nothing to consume.
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "relay-moderator"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	filter := moderation.NewFilter()

	err = natsClient.SubscribeReportSubmitted(func(data []byte) {
		var report moderation.ReportEvent
		if err := json.Unmarshal(data, &report); err != nil {
			log.Printf("[moderator] failed to unmarshal report: %v", err)
			return
		}

		// Only the reported user's own messages count against them.
		var flagged moderation.FilterResult
		for _, msg := range report.Transcript {
			if msg.SenderID != report.ReportedUserID {
				continue
			}
			if result := filter.Check(msg.Content); result.Blocked {
				flagged = result
				break
			}
		}

		if !flagged.Blocked {
			log.Printf("[moderator] CLEAN report=%s reported_user=%s reason=%s",
				report.ReportID, report.ReportedUserID, report.Reason)
			return
		}

		log.Printf("[moderator] FLAGGED report=%s reported_user=%s filter_reason=%s term=%q",
			report.ReportID, report.ReportedUserID, flagged.Reason, flagged.Term)

		duration := ban.BanFirst
		if bans != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			count, err := bans.OffenseCount(ctx, report.ReportedUserID)
			cancel()
			if err != nil {
				log.Printf("[moderator] offense count for user=%s: %v", report.ReportedUserID, err)
			} else if count >= 2 {
				duration = ban.BanThird
			} else if count >= 1 {
				duration = ban.BanSecond
			}
		}

		action := moderation.Action{
			Action:   moderation.ActionBan,
			UserID:   report.ReportedUserID,
			Reason:   "blocked_content",
			Term:     flagged.Term,
			Duration: int(duration.Seconds()),
		}
		payload, err := json.Marshal(action)
		if err != nil {
			log.Printf("[moderator] failed to marshal action: %v", err)
			return
		}
		if err := natsClient.PublishModerationAction(payload); err != nil {
			log.Printf("[moderator] failed to publish action: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to submitted reports: %v", err)
	}

	log.Printf("Pairline moderation service running")
	log.Printf("  nats_url:         %s", natsConfig.URL)
	log.Printf("  offense_tracking: %v", bans != nil)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
