package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/app"
	"github.com/adcontextprotocol/salesagent/internal/config"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/token"
)

var (
	tenantID      = flag.String("tenant", "demo", "tenant id")
	tenantName    = flag.String("name", "Demo Publisher", "tenant display name")
	subdomain     = flag.String("subdomain", "", "tenant subdomain (defaults to the tenant id)")
	virtualHost   = flag.String("virtual-host", "", "tenant virtual host, e.g. ads.example.com")
	networkCode   = flag.String("network-code", "", "ad server network code")
	orderTemplate = flag.String("order-template", "", "order name template")
	principalName = flag.String("principal", "Demo Buyer", "principal display name")
	creatives     = flag.Int("creatives", 3, "number of demo creatives")
	signed        = flag.Bool("signed", false, "also print a signed credential (needs TOKEN_SECRET)")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	store, err := app.OpenStore(cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	sub := *subdomain
	if sub == "" {
		sub = *tenantID
	}
	err = store.CreateTenant(ctx, models.Tenant{
		ID:              *tenantID,
		Name:            *tenantName,
		Subdomain:       sub,
		VirtualHost:     *virtualHost,
		NetworkCode:     *networkCode,
		NamingTemplates: models.NamingTemplates{Order: *orderTemplate},
		IsActive:        true,
	})
	switch {
	case errors.Is(err, models.ErrAlreadyExists):
		logger.Info("tenant already exists", zap.String("tenant_id", *tenantID))
	case err != nil:
		logger.Fatal("insert tenant", zap.Error(err))
	default:
		logger.Info("created tenant", zap.String("tenant_id", *tenantID), zap.String("subdomain", sub))
	}

	principalID := "principal_" + uuid.NewString()[:8]
	accessToken := uuid.NewString()
	if err := store.CreatePrincipal(ctx, models.Principal{
		ID:        principalID,
		TenantID:  *tenantID,
		Name:      *principalName,
		TokenHash: token.Hash(accessToken),
	}); err != nil {
		logger.Fatal("insert principal", zap.Error(err))
	}

	for i := 1; i <= *creatives; i++ {
		c := models.Creative{
			ID:       fmt.Sprintf("creative_%d", i),
			TenantID: *tenantID,
			Name:     fmt.Sprintf("Demo creative %d", i),
			Format:   "display_300x250",
		}
		if err := store.CreateCreative(ctx, c); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
			logger.Fatal("insert creative", zap.Error(err))
		}
	}

	fmt.Printf("principal_id=%s\naccess_token=%s\n", principalID, accessToken)
	if *signed {
		tok, err := token.Generate(*tenantID, principalID, []byte(cfg.TokenSecret), cfg.TokenTTL)
		if err != nil {
			logger.Fatal("sign credential", zap.Error(err))
		}
		fmt.Printf("signed_token=%s\n", tok)
	}
}
