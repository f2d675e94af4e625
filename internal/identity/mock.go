package identity

import "github.com/stretchr/testify/mock"

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Register(email, displayName, password string) (Identity, error) {
	args := m.Called(email, displayName, password)
	return args.Get(0).(Identity), args.Error(1)
}
func (m *MockProvider) Authenticate(email, password string) (Identity, error) {
	args := m.Called(email, password)
	return args.Get(0).(Identity), args.Error(1)
}
func (m *MockProvider) Lookup(userId string) (Identity, error) {
	args := m.Called(userId)
	return args.Get(0).(Identity), args.Error(1)
}
func (m *MockProvider) UpdateProfile(userId, displayName, avatarRef string) (Identity, error) {
	args := m.Called(userId, displayName, avatarRef)
	return args.Get(0).(Identity), args.Error(1)
}
