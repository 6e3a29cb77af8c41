package repositories

import (
	"chat-core/contract"
	"chat-core/domain/chat"
	"context"
)

type IUserRepository interface {
	contract.ProfileService
	SavePrivacy(ctx context.Context, participant string, privacy chat.Privacy) error
}

// UserRepository keeps the profile privacy flags of participants in the store.
// A participant that never saved settings gets chat.DefaultPrivacy.
type UserRepository struct {
	store contract.Store
}

func NewUserRepository(store contract.Store) IUserRepository {
	return &UserRepository{store: store}
}

const (
	fieldLastSeenVisible     = "lastSeenVisible"
	fieldReadReceiptsEnabled = "readReceiptsEnabled"
	fieldProfilePhotoVisible = "profilePhotoVisible"
	fieldAboutVisible        = "aboutVisible"
)

func (u UserRepository) SavePrivacy(ctx context.Context, participant string, privacy chat.Privacy) error {
	return u.store.SetValue(ctx, PrivacyPath(participant), map[string]any{
		fieldLastSeenVisible:     privacy.LastSeenVisible,
		fieldReadReceiptsEnabled: privacy.ReadReceiptsEnabled,
		fieldProfilePhotoVisible: privacy.ProfilePhotoVisible,
		fieldAboutVisible:        privacy.AboutVisible,
	})
}

func (u UserRepository) Privacy(ctx context.Context, participant string) (chat.Privacy, error) {
	value, err := u.store.ReadOnce(ctx, PrivacyPath(participant))
	if err != nil {
		return chat.Privacy{}, err
	}
	node := MapFrom(value)
	if node == nil {
		return chat.DefaultPrivacy(), nil
	}
	return toPrivacy(node), nil
}

func toPrivacy(node map[string]any) chat.Privacy {
	flag := func(name string) bool {
		b, ok := node[name].(bool)
		return !ok || b
	}
	return chat.Privacy{
		LastSeenVisible:     flag(fieldLastSeenVisible),
		ReadReceiptsEnabled: flag(fieldReadReceiptsEnabled),
		ProfilePhotoVisible: flag(fieldProfilePhotoVisible),
		AboutVisible:        flag(fieldAboutVisible),
	}
}
