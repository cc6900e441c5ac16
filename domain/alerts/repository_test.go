package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

func TestRepository_CreateValidates(t *testing.T) {
	db, _ := testutil.NewMockDB(t)
	repo := NewRepository(db, testutil.NewLogger())

	valid := CreateInput{Type: TypeMarket, Severity: SeverityHigh, Title: "Soja +15%"}
	tests := []struct {
		name   string
		userID string
		mutate func(*CreateInput)
	}{
		{name: "missing user", userID: " "},
		{name: "unknown type", userID: "u1", mutate: func(in *CreateInput) { in.Type = "PEST" }},
		{name: "unknown severity", userID: "u1", mutate: func(in *CreateInput) { in.Severity = "URGENT" }},
		{name: "missing title", userID: "u1", mutate: func(in *CreateInput) { in.Title = "" }},
		{name: "metadata not encodable", userID: "u1", mutate: func(in *CreateInput) { in.Metadata = map[string]any{"ch": make(chan int)} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := repo.Create(context.Background(), tt.userID, in)
			assert.ErrorIs(t, err, ErrInvalidAlert)
		})
	}
}

func TestRepository_Create(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewRepository(db, testutil.NewLogger())

	mock.ExpectQuery(`INSERT INTO "alerts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("6f1c2a1e-8a43-4c7b-9a55-0f1f3d2f9b10"))

	alert, err := repo.Create(context.Background(), "u1", CreateInput{
		Type:     TypeWeather,
		Severity: SeverityMedium,
		Title:    "Chuva forte",
		Message:  "62mm",
		Metadata: map[string]any{"farmId": "f1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a1e-8a43-4c7b-9a55-0f1f3d2f9b10", alert.ID)
	assert.Equal(t, "u1", alert.UserID)
	assert.JSONEq(t, `{"farmId":"f1"}`, string(alert.Metadata))
}

func TestRepository_CreateDatabaseError(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewRepository(db, testutil.NewLogger())

	mock.ExpectQuery(`INSERT INTO "alerts"`).WillReturnError(errors.New("connection reset"))

	_, err := repo.Create(context.Background(), "u1", CreateInput{Type: TypeSystem, Severity: SeverityLow, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert alert")
}
