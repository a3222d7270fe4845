package testutil

import (
	"context"
	"net/url"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/stretchr/testify/mock"
)

type MockFederatedClient struct {
	mock.Mock
}

func (m *MockFederatedClient) Authorize(ctx context.Context, identifier string, opts idp.AuthorizeOptions) (*url.URL, error) {
	args := m.Called(ctx, identifier, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockFederatedClient) Callback(ctx context.Context, query url.Values) (*idp.CallbackResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.CallbackResult), args.Error(1)
}

func (m *MockFederatedClient) Restore(ctx context.Context, did string) (idp.FederatedSession, error) {
	args := m.Called(ctx, did)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(idp.FederatedSession), args.Error(1)
}

type MockFederatedSession struct {
	mock.Mock
}

func (m *MockFederatedSession) DID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockFederatedSession) TokenInfo(ctx context.Context) (*idp.TokenInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenInfo), args.Error(1)
}

func (m *MockFederatedSession) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockStarSetter mocks the server side of a star toggle
type MockStarSetter struct {
	mock.Mock
}

func (m *MockStarSetter) SetStarred(ctx context.Context, owner, repo string, starred bool) (bool, error) {
	args := m.Called(ctx, owner, repo, starred)
	return args.Bool(0), args.Error(1)
}
