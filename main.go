package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/joho/godotenv"

	"github.com/lamplight/optin-backend/api"
	"github.com/lamplight/optin-backend/backend"
	"github.com/lamplight/optin-backend/email"
	"github.com/lamplight/optin-backend/lists"
	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/pipeline"
	"github.com/lamplight/optin-backend/ratelimit"
	"github.com/lamplight/optin-backend/token"
	"github.com/lamplight/optin-backend/util"
)

const pruneInterval = time.Hour

// loadDescriptors builds a descriptor per configured provider. At
// least one provider must be configured.
func loadDescriptors() ([]*backend.Descriptor, error) {
	descriptors := []*backend.Descriptor{}
	varErrs := util.Errors{}
	if baseURL := os.Getenv("MAILMAN_API_URL"); baseURL != "" {
		descriptors = append(descriptors, backend.Mailman(baseURL,
			util.RequireEnv("MAILMAN_API_USER", &varErrs),
			util.RequireEnv("MAILMAN_API_KEY", &varErrs)))
	}
	if baseURL := os.Getenv("MAILTRAIN_API_URL"); baseURL != "" {
		descriptors = append(descriptors, backend.Mailtrain(baseURL,
			util.RequireEnv("MAILTRAIN_ACCESS_TOKEN", &varErrs)))
	}
	if len(varErrs) > 0 {
		return nil, varErrs
	}
	if len(descriptors) == 0 {
		return nil, errors.New("no mailing list backend configured: set MAILMAN_API_URL or MAILTRAIN_API_URL")
	}
	return descriptors, nil
}

// registryFetcher adapts the backend client to the registry's Fetcher,
// merging the lists of every configured provider and stamping on the
// service-wide milestone threshold.
type registryFetcher struct {
	client    *backend.Client
	warnEvery int
}

func (f registryFetcher) FetchAllLists() ([]models.MailingList, error) {
	all := []models.MailingList{}
	for _, d := range f.client.Descriptors() {
		fetched, err := f.client.FetchLists(d)
		if err != nil {
			return nil, err
		}
		for i := range fetched {
			fetched[i].WarnEvery = f.warnEvery
		}
		all = append(all, fetched...)
	}
	return all, nil
}

func envInt(varName string, fallback int) int {
	n, err := strconv.Atoi(util.EnvOrDefault(varName, strconv.Itoa(fallback)))
	if err != nil {
		log.Fatalf("environment variable %s must be numeric: %v", varName, err)
	}
	return n
}

func main() {
	godotenv.Load()
	raven.SetDSN(os.Getenv("SENTRY_DSN"))

	port, err := util.ValidPort(util.EnvOrDefault("PORT", "8080"))
	if err != nil {
		log.Fatal(err)
	}
	emailConfig, err := email.MakeConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	descriptors, err := loadDescriptors()
	if err != nil {
		log.Fatal(err)
	}
	client := backend.NewClient(backend.DefaultTimeout, descriptors...)

	fetcher := registryFetcher{
		client:    client,
		warnEvery: envInt("WARN_EVERY_SUBSCRIBERS", 0),
	}
	registry := lists.NewRegistry()
	if err := registry.Refresh(fetcher); err != nil {
		log.Fatal(err)
	}
	log.Printf("list registry loaded %d mailing lists", len(registry.All()))
	stop := make(chan struct{})
	refreshInterval := time.Duration(envInt("LIST_REFRESH_MINUTES", 60)) * time.Minute
	go registry.RunRefresh(fetcher, refreshInterval, stop)

	tokens := token.NewStore()
	limiter := ratelimit.New(
		envInt("RATE_LIMIT_REQUESTS", ratelimit.DefaultLimit),
		time.Duration(envInt("RATE_LIMIT_WINDOW_MINUTES", 60))*time.Minute)
	go pruneRegularly(tokens, limiter)

	p := pipeline.New(tokens, limiter, registry, client, emailConfig, pipeline.Config{
		SiteURL: os.Getenv("SITE_URL"),
	})
	p.Start()

	a := &api.API{Pipeline: p, Lists: registry}
	mux := http.NewServeMux()
	log.Printf("listening on %s", port)
	log.Fatal(http.ListenAndServe(port, a.RegisterHandlers(mux)))
}

// pruneRegularly reclaims expired tokens and idle rate windows. Both
// stores expire lazily on access, so this is purely a memory bound.
func pruneRegularly(tokens *token.Store, limiter *ratelimit.Limiter) {
	for range time.Tick(pruneInterval) {
		if removed := tokens.Prune(); removed > 0 {
			log.Printf("pruned %d expired tokens", removed)
		}
		limiter.Prune()
	}
}
