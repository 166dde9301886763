package service

import (
	"context"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockComicRepository is a mock implementation of store.ComicRepository
type MockComicRepository struct {
	mock.Mock
}

func (m *MockComicRepository) GetComicIDs(ctx context.Context, startID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, startID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockComicRepository) GetComicBatchData(ctx context.Context, comicIDs []int64) ([]*model.ComicBatchData, error) {
	args := m.Called(ctx, comicIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ComicBatchData), args.Error(1)
}

func (m *MockComicRepository) SaveComputedVisibilities(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	args := m.Called(ctx, comicIDs, visibilities)
	return args.Error(0)
}

func (m *MockComicRepository) GetComputedVisibilities(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	args := m.Called(ctx, comicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ComputedVisibility), args.Error(1)
}

func (m *MockComicRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockComicRepository) Close() {
	m.Called()
}

// MockVisibilityCache is a mock implementation of store.VisibilityCache
type MockVisibilityCache struct {
	mock.Mock
}

func (m *MockVisibilityCache) Publish(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	args := m.Called(ctx, comicIDs, visibilities)
	return args.Error(0)
}

func (m *MockVisibilityCache) Get(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	args := m.Called(ctx, comicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ComputedVisibility), args.Error(1)
}

func (m *MockVisibilityCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockVisibilityCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
