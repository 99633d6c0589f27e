package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/session-tracker/internal/domain"
)

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-sessions", "Kafka topic")
	totalPlayers := flag.Int("players", 100, "Number of distinct players")
	concurrent := flag.Int("sessions", 20, "Number of sessions played at the same time")
	splitsPerSession := flag.Int("splits", 40, "Splits recorded before a session finishes")
	updatesPerSecond := flag.Int("rate", 50, "Snapshots sent per second")
	replayPercent := flag.Int("replay", 10, "Percentage of snapshots resent unchanged")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *updatesPerSecond <= 0 || *concurrent <= 0 || *totalPlayers <= 0 || *splitsPerSession <= 0 {
		log.Fatal("players, sessions, splits and rate must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Session Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Live sessions:    %d\n", *concurrent)
	fmt.Printf("  Splits/session:   %d\n", *splitsPerSession)
	fmt.Printf("  Snapshots/sec:    %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// the session id is the key, so snapshots of one session stay ordered
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sendSnapshot := func(payload domain.SessionPayload) {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("Failed to marshal session: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(payload.ID),
			Value: sarama.ByteEncoder(data),
		}
	}

	shutdown := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	newSession := func() *liveSession {
		mode := domain.Modes[rng.Intn(len(domain.Modes))]
		return newLiveSession(getPlayerName(rng.Intn(*totalPlayers)), mode, time.Now(), *splitsPerSession)
	}

	live := make([]*liveSession, *concurrent)
	for i := range live {
		live[i] = newSession()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var snapshots, replays, finished int64
	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\n\nDuration reached, shutting down...")
				shutdown()
				return
			}

			idx := rng.Intn(len(live))
			s := live[idx]

			// resending an unchanged snapshot must not create new splits
			if len(s.payload.Splits) > 0 && rng.Intn(100) < *replayPercent {
				sendSnapshot(s.payload)
				replays++
				continue
			}

			done := s.advance(rng)
			sendSnapshot(s.payload)
			snapshots++
			if done {
				finished++
				live[idx] = newSession()
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Snapshots: %d | Replays: %d | Finished: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				snapshots,
				replays,
				finished,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
