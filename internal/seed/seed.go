package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

const (
	defaultCurrency = "RON"

	devCraftsmanEmail    = "mester@bricli.ro"
	devCraftsmanPassword = "parola123"
	devCraftsmanName     = "Ion Popescu"
)

func intPtr(v int) *int { return &v }

// tierCatalog is the canonical tier definition. Prices are in bani.
func tierCatalog() []tierdomain.SubscriptionTier {
	return []tierdomain.SubscriptionTier{
		{
			Name:               tierdomain.NameFree,
			PriceAmount:        0,
			Currency:           defaultCurrency,
			MonthlyLeadLimit:   intPtr(5),
			MaxPortfolioImages: 5,
		},
		{
			Name:               tierdomain.NamePlus,
			PriceAmount:        4900,
			Currency:           defaultCurrency,
			MonthlyLeadLimit:   intPtr(25),
			MaxPortfolioImages: 20,
			ProfileBadge:       true,
			CanAttachPDF:       true,
		},
		{
			Name:               tierdomain.NamePro,
			PriceAmount:        9900,
			Currency:           defaultCurrency,
			MonthlyLeadLimit:   nil,
			MaxPortfolioImages: 50,
			ProfileBadge:       true,
			PriorityInSearch:   true,
			ShowInFeatured:     true,
			CanAttachPDF:       true,
			AnalyticsAccess:    true,
		},
	}
}

// EnsureTiers upserts the tier catalog. Existing rows keep their ID and
// Stripe price binding; only the descriptive columns are refreshed.
func EnsureTiers(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tier := range tierCatalog() {
			if err := ensureTierTx(ctx, tx, node, tier); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureTierTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, want tierdomain.SubscriptionTier) error {
	var existing tierdomain.SubscriptionTier
	err := tx.WithContext(ctx).Where("name = ?", want.Name).First(&existing).Error
	now := time.Now().UTC()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		want.ID = node.Generate()
		want.CreatedAt = now
		want.UpdatedAt = now
		return tx.WithContext(ctx).Create(&want).Error
	}
	if err != nil {
		return err
	}

	existing.PriceAmount = want.PriceAmount
	existing.Currency = want.Currency
	existing.MonthlyLeadLimit = want.MonthlyLeadLimit
	existing.MaxPortfolioImages = want.MaxPortfolioImages
	existing.ProfileBadge = want.ProfileBadge
	existing.PriorityInSearch = want.PriorityInSearch
	existing.ShowInFeatured = want.ShowInFeatured
	existing.CanAttachPDF = want.CanAttachPDF
	existing.AnalyticsAccess = want.AnalyticsAccess
	existing.UpdatedAt = now
	return tx.WithContext(ctx).Save(&existing).Error
}

// EnsureDevCraftsman creates a development account for local testing.
// Never called in production mode.
func EnsureDevCraftsman(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	email := strings.ToLower(devCraftsmanEmail)

	var existing craftsmandomain.Craftsman
	err = db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(devCraftsmanPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	craftsman := craftsmandomain.Craftsman{
		ID:           node.Generate(),
		Email:        email,
		PasswordHash: string(hashed),
		DisplayName:  devCraftsmanName,
		Slug:         slug.Make(devCraftsmanName),
		County:       "Cluj",
		City:         "Cluj-Napoca",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return db.WithContext(ctx).Create(&craftsman).Error
}
