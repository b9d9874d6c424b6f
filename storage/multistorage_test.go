package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRecordBackend implements interfaces.RecordBackend for testing
type MockRecordBackend struct {
	mock.Mock
	name string
}

func (m *MockRecordBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockRecordBackend) Store(ctx context.Context, account interfaces.AccountID, data []byte) error {
	args := m.Called(ctx, account, data)
	return args.Error(0)
}

func (m *MockRecordBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.AccountID), args.Error(1)
}

func (m *MockRecordBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockRecordBackend) Name() string {
	return m.name
}

func (m *MockRecordBackend) LocationURI() string {
	return "mock://" + m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.RecordBackend
			for i, available := range tt.backends {
				mockStorage := &MockRecordBackend{name: fmt.Sprintf("mock-A%x", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, discardLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockRecordBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	account := interfaces.AccountID("operationsReserve")
	testData := []byte(`{"accountId":"operationsReserve"}`)
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.RecordBackend
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, account).Return(testData, nil)

				// not consulted once the first succeeds
				mock2 := &MockRecordBackend{name: "mock-B"}

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, account).Return(nil, testErr)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, account).Return(testData, nil)

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "missing everywhere",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, account).Return(nil, interfaces.ErrCredentialNotFound)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, account).Return(nil, interfaces.ErrCredentialNotFound)

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrCredentialNotFound,
		},
		{
			name: "missing on one, broken on the other",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, account).Return(nil, interfaces.ErrCredentialNotFound)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, account).Return(nil, testErr)

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, account).Return(testData, nil)

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedData: testData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, discardLogger())

			data, err := multi.Fetch(context.Background(), account)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				backend.(*MockRecordBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	account := interfaces.AccountID("marketing")
	testData := []byte("record")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.RecordBackend
		expectedError bool
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, account, testData).Return(nil)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, account, testData).Return(nil)

				return []interfaces.RecordBackend{mock1, mock2}
			},
		},
		{
			name: "some backends fail",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, account, testData).Return(nil)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, account, testData).Return(testErr)

				return []interfaces.RecordBackend{mock1, mock2}
			},
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, account, testData).Return(testErr)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, account, testData).Return(testErr)

				return []interfaces.RecordBackend{mock1, mock2}
			},
			expectedError: true,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.RecordBackend {
				mock1 := &MockRecordBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockRecordBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, account, testData).Return(nil)

				return []interfaces.RecordBackend{mock1, mock2}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, discardLogger())

			err := multi.Store(context.Background(), account, testData)

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
			} else {
				assert.NoError(t, err)
			}

			for _, backend := range backends {
				backend.(*MockRecordBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_ListUnion(t *testing.T) {
	mock1 := &MockRecordBackend{name: "mock-A"}
	mock1.On("Available", mock.Anything).Return(true)
	mock1.On("List", mock.Anything).Return([]interfaces.AccountID{"testing", "marketing"}, nil)

	mock2 := &MockRecordBackend{name: "mock-B"}
	mock2.On("Available", mock.Anything).Return(true)
	mock2.On("List", mock.Anything).Return([]interfaces.AccountID{"marketing", "jackpotReserve"}, nil)

	mock3 := &MockRecordBackend{name: "mock-C"}
	mock3.On("Available", mock.Anything).Return(true)
	mock3.On("List", mock.Anything).Return(nil, errors.New("boom"))

	multi := NewMultiStorageBackend([]interfaces.RecordBackend{mock1, mock2, mock3}, discardLogger())
	accounts, err := multi.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interfaces.AccountID{"jackpotReserve", "marketing", "testing"}, accounts)
	assert.Equal(t, "mock://mock-A,mock://mock-B,mock://mock-C", multi.LocationURI())
}
