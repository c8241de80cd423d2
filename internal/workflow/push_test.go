package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPushStage(t *testing.T) {
	tests := []struct {
		from PushStage
		ev   PushEvent
		to   PushStage
		ok   bool
	}{
		{PushIdle, EventOpen, PushPendingConfirmation, true},
		{PushIdle, EventAccept, PushIdle, false},
		{PushPendingConfirmation, EventCancel, PushIdle, true},
		{PushPendingConfirmation, EventAccept, PushProcessing, true},
		{PushProcessing, EventAccept, PushProcessing, false},
		{PushProcessing, EventCancel, PushProcessing, true},
		{PushProcessing, EventUploadSucceeded, PushSucceeded, true},
		{PushProcessing, EventUploadFailed, PushFailed, true},
		{PushProcessing, EventFinish, PushProcessing, false},
		{PushSucceeded, EventFinish, PushIdle, true},
		{PushSucceeded, EventRetry, PushSucceeded, false},
		{PushFailed, EventRetry, PushPendingConfirmation, true},
		{PushFailed, EventAbandon, PushIdle, true},
		{PushFailed, EventFinish, PushFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			to, ok := nextPushStage(tt.from, tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTransitionError(t *testing.T) {
	s := newTestSession(t, &MockUploader{})

	_, err := s.RetryPush()
	var te *TransitionError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, PushIdle, te.Stage)
	assert.Equal(t, EventRetry, te.Event)
}
