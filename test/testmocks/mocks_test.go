package testmocks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

func TestMockAlertStore_NilResult(t *testing.T) {
	store := new(MockAlertStore)
	store.On("FetchActiveAlerts", mock.Anything, models.AlertTypeFunding, mock.Anything).
		Return(nil, errors.New("down"))

	records, err := store.FetchActiveAlerts(context.Background(), models.AlertTypeFunding, time.Now())
	assert.Nil(t, records)
	assert.EqualError(t, err, "down")
	store.AssertExpectations(t)
}

func TestMockMatchRepository_Save(t *testing.T) {
	repo := new(MockMatchRepository)
	repo.On("Save", mock.Anything, mock.Anything).Return("id-1", true, nil)

	id, inserted, err := repo.Save(context.Background(), &models.MatchProposal{})
	assert.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "id-1", id)
}
