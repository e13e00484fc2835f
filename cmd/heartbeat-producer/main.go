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
	"github.com/gamehub-backend/internal/auth"
	"github.com/gamehub-backend/internal/config"
	"github.com/gamehub-backend/internal/kafka"
	"github.com/google/uuid"
)

var mapNames = []string{"dust", "nuke", "inferno", "mirage", "overpass", "vertigo"}

// fleet simulates dedicated game servers whose players come and go
type fleet struct {
	servers []kafka.Heartbeat
	maxSize int
}

func newFleet(count, maxPlayers int, token string) *fleet {
	f := &fleet{maxSize: maxPlayers}
	for i := 0; i < count; i++ {
		f.servers = append(f.servers, kafka.Heartbeat{
			Token:     token,
			Address:   fmt.Sprintf("10.0.%d.%d:7777", i/250, i%250+1),
			PlayerIDs: []uuid.UUID{},
			MapName:   mapNames[i%len(mapNames)],
		})
	}
	return f
}

// churn moves one random server a step: a player joins or leaves
func (f *fleet) churn() kafka.Heartbeat {
	s := &f.servers[rand.Intn(len(f.servers))]
	switch {
	case len(s.PlayerIDs) == 0 || (len(s.PlayerIDs) < f.maxSize && rand.Intn(100) < 60):
		s.PlayerIDs = append(s.PlayerIDs, uuid.New())
	default:
		i := rand.Intn(len(s.PlayerIDs))
		s.PlayerIDs = append(s.PlayerIDs[:i], s.PlayerIDs[i+1:]...)
	}
	heartbeat := *s
	heartbeat.PlayerIDs = append([]uuid.UUID(nil), s.PlayerIDs...)
	return heartbeat
}

// settings are the producer's connection and token parameters
type settings struct {
	brokers []string
	topic   string
	tokens  auth.TokenConfig
}

// resolveSettings prefers explicit flag values and falls back to the server
// configuration for anything left empty
func resolveSettings(cfg *config.Config, brokers, topic, secret, issuer string, ttl time.Duration) settings {
	s := settings{
		brokers: cfg.Kafka.Brokers,
		topic:   cfg.Kafka.Topic,
		tokens: auth.TokenConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			TTL:      cfg.Auth.TokenTTL,
		},
	}
	if brokers != "" {
		s.brokers = strings.Split(brokers, ",")
	}
	if topic != "" {
		s.topic = topic
	}
	if secret != "" {
		s.tokens.Secret = []byte(secret)
	}
	if issuer != "" {
		s.tokens.Issuer = issuer
	}
	if ttl > 0 {
		s.tokens.TTL = ttl
	}
	return s
}

// loadConfig reads the server configuration, falling back to defaults and
// GAMEHUB_* environment overrides when the file is missing
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	log.Printf("Failed to load config file, using defaults: %v", err)
	return config.DefaultConfig()
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the server configuration file")
	brokers := flag.String("brokers", "", "Kafka brokers, comma-separated (defaults to kafka.brokers)")
	topic := flag.String("topic", "", "Kafka topic (defaults to kafka.topic)")
	secret := flag.String("secret", "", "JWT signing secret (defaults to auth.jwt_secret)")
	issuerName := flag.String("issuer", "", "JWT issuer (defaults to auth.issuer)")
	tokenTTL := flag.Duration("token-ttl", 0, "Operator token lifetime (defaults to auth.token_ttl)")
	operator := flag.String("operator", "", "Operator account id (random when empty)")
	roleID := flag.Int("role", 2, "Role id carried by the operator token")
	servers := flag.Int("servers", 20, "Number of simulated game servers")
	maxPlayers := flag.Int("max-players", 10, "Maximum players per server")
	updatesPerSecond := flag.Int("rate", 10, "Heartbeats per second")
	refresh := flag.Duration("refresh", 20*time.Second, "Interval at which every server re-sends its heartbeat")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	resolved := resolveSettings(cfg, *brokers, *topic, *secret, *issuerName, *tokenTTL)
	if len(resolved.tokens.Secret) == 0 {
		log.Fatal("a signing secret is required (-secret, auth.jwt_secret or GAMEHUB_AUTH_JWT_SECRET)")
	}
	if *servers < 1 || *updatesPerSecond < 1 || *refresh <= 0 {
		log.Fatal("-servers, -rate and -refresh must be positive")
	}

	operatorID := uuid.New()
	if *operator != "" {
		id, err := uuid.Parse(*operator)
		if err != nil {
			log.Fatalf("Invalid operator id: %v", err)
		}
		operatorID = id
	}

	issuer := auth.NewIssuer(resolved.tokens)
	token, err := issuer.Issue(operatorID, *roleID)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println("Heartbeat producer")
	fmt.Printf("  Brokers:      %s\n", strings.Join(resolved.brokers, ","))
	fmt.Printf("  Topic:        %s\n", resolved.topic)
	fmt.Printf("  Operator:     %s (role %d)\n", operatorID, *roleID)
	fmt.Printf("  Token TTL:    %s\n", resolved.tokens.TTL)
	fmt.Printf("  Servers:      %d\n", *servers)
	fmt.Printf("  Heartbeats/s: %d\n", *updatesPerSecond)
	fmt.Println()

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForLocal
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	producerConfig.Producer.Flush.Messages = 100
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(resolved.brokers, producerConfig)
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Heartbeats of one server share a key so they stay ordered on one partition
	send := func(heartbeat kafka.Heartbeat) {
		data, err := json.Marshal(heartbeat)
		if err != nil {
			log.Printf("Failed to marshal heartbeat: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: resolved.topic,
			Key:   sarama.StringEncoder(heartbeat.Address),
			Value: sarama.ByteEncoder(data),
		}
	}

	shutdown := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	f := newFleet(*servers, *maxPlayers, token)
	for _, heartbeat := range f.servers {
		send(heartbeat)
	}

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()

	refreshTicker := time.NewTicker(*refresh)
	defer refreshTicker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var beats int64
	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\nDuration reached, shutting down...")
				shutdown()
				return
			}
			send(f.churn())
			beats++

		case <-refreshTicker.C:
			for _, heartbeat := range f.servers {
				send(heartbeat)
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Heartbeats: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				beats,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
