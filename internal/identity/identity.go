// Package identity defines the identity-provider contract the
// gateway consumes, and the default local implementation backed by
// the account store.
package identity

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/convoim/convo/internal/store"
)

// ErrAuthenticationFailed is returned for any credential failure.
// Callers get the same error whether the account exists or not.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Identity is what a provider returns for an authenticated user: a
// stable opaque id plus the owner-mutable display fields.
type Identity struct {
	UserId      string
	DisplayName string
	AvatarRef   string
}

type Provider interface {
	Register(email, displayName, password string) (Identity, error)
	Authenticate(email, password string) (Identity, error)
	Lookup(userId string) (Identity, error)
	UpdateProfile(userId, displayName, avatarRef string) (Identity, error)
}

// LocalProvider implements Provider against the account store with
// bcrypt-hashed credentials.
type LocalProvider struct {
	log *log.Logger
	db  store.Repository
}

func NewLocalProvider(logger *log.Logger, db store.Repository) *LocalProvider {
	return &LocalProvider{
		log: logger,
		db:  db,
	}
}

func (p *LocalProvider) Register(email, displayName, password string) (Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, err
	}

	account, err := p.db.CreateAccount(store.CreateAccountParams{
		Id:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	})
	if err != nil {
		return Identity{}, err
	}

	return toIdentity(account), nil
}

func (p *LocalProvider) Authenticate(email, password string) (Identity, error) {
	account, err := p.db.GetAccountByEmail(email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return Identity{}, ErrAuthenticationFailed
		}
		return Identity{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrAuthenticationFailed
	}

	return toIdentity(account), nil
}

func (p *LocalProvider) Lookup(userId string) (Identity, error) {
	account, err := p.db.GetAccountById(userId)
	if err != nil {
		return Identity{}, err
	}

	return toIdentity(account), nil
}

func (p *LocalProvider) UpdateProfile(userId, displayName, avatarRef string) (Identity, error) {
	account, err := p.db.UpdateAccount(store.UpdateAccountParams{
		UserId:      userId,
		DisplayName: displayName,
		AvatarRef:   avatarRef,
	})
	if err != nil {
		return Identity{}, err
	}

	return toIdentity(account), nil
}

func toIdentity(a store.Account) Identity {
	return Identity{
		UserId:      a.Id,
		DisplayName: a.DisplayName,
		AvatarRef:   a.AvatarRef,
	}
}
