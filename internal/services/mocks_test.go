package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/tutorlane/backend/internal/paypal"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateOrder(ctx context.Context, referenceID string, amountUsd decimal.Decimal, returnURL, cancelURL string) (*paypal.Order, error) {
	args := m.Called(referenceID, amountUsd, returnURL, cancelURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paypal.Order), args.Error(1)
}

func (m *MockGateway) CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paypal.Capture), args.Error(1)
}
