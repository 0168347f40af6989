package mongodb

import (
	"context"
	"fmt"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// settingsSource reads the loyalty settings sections the admin system writes
// as one document per section key. This engine never writes them.
type settingsSource struct {
	collection *mongo.Collection
}

func NewSettingsSource(db *mongo.Database) interfaces.SettingsSource {
	return &settingsSource{
		collection: db.Collection("loyalty_settings"),
	}
}

func (s *settingsSource) FetchProgram(ctx context.Context) (*models.ProgramSettings, error) {
	var doc struct {
		Value models.ProgramSettings `bson:"value"`
	}
	if err := s.fetchSection(ctx, models.SettingsSectionProgram, &doc); err != nil {
		return nil, err
	}
	return &doc.Value, nil
}

func (s *settingsSource) FetchEarning(ctx context.Context) (*models.EarningSettings, error) {
	var doc struct {
		Value models.EarningSettings `bson:"value"`
	}
	if err := s.fetchSection(ctx, models.SettingsSectionEarning, &doc); err != nil {
		return nil, err
	}
	return &doc.Value, nil
}

func (s *settingsSource) FetchRedemption(ctx context.Context) (*models.RedemptionSettings, error) {
	var doc struct {
		Value models.RedemptionSettings `bson:"value"`
	}
	if err := s.fetchSection(ctx, models.SettingsSectionRedemption, &doc); err != nil {
		return nil, err
	}
	return &doc.Value, nil
}

func (s *settingsSource) FetchReferral(ctx context.Context) (*models.ReferralSettings, error) {
	var doc struct {
		Value models.ReferralSettings `bson:"value"`
	}
	if err := s.fetchSection(ctx, models.SettingsSectionReferral, &doc); err != nil {
		return nil, err
	}
	return &doc.Value, nil
}

// fetchSection decodes one section document. A missing document is not an
// error: the section simply has never been configured and dest keeps its
// zero-value defaults.
func (s *settingsSource) fetchSection(ctx context.Context, key string, dest interface{}) error {
	err := s.collection.FindOne(ctx, bson.M{"key": key}).Decode(dest)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil
		}
		return fmt.Errorf("failed to fetch settings section %s: %w", key, err)
	}
	return nil
}
