package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidcompress/internal/progress"
)

func TestMessageSink_SkipsIdenticalText(t *testing.T) {
	api := &fakeAPI{}
	sink := NewMessageSink(api, nil, 10, 20, "Balanced", nil)
	ctx := context.Background()

	e := progress.Event{Stage: progress.StageTranscoding, Percent: 40}
	require.NoError(t, sink.Send(ctx, e))
	require.NoError(t, sink.Send(ctx, e))
	require.NoError(t, sink.Send(ctx, progress.Event{Stage: progress.StageTranscoding, Percent: 45}))

	edits := api.edits()
	require.Len(t, edits, 2)
	assert.Equal(t, int64(10), edits[0].ChatID)
	assert.Equal(t, 20, edits[0].MessageID)
	assert.Contains(t, edits[0].Text, "40%")
	assert.NotNil(t, edits[0].ReplyMarkup)
	assert.Contains(t, edits[1].Text, "45%")
}

func TestMessageSink_FinishDropsKeyboard(t *testing.T) {
	api := &fakeAPI{}
	sink := NewMessageSink(api, nil, 1, 2, "Low", nil)

	require.NoError(t, sink.Finish(context.Background(), "done"))
	edits := api.edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "done", edits[0].Text)
	assert.Nil(t, edits[0].ReplyMarkup)
}

func TestMessageSink_NotModifiedIsIgnored(t *testing.T) {
	api := &fakeAPI{reqErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	sink := NewMessageSink(api, nil, 1, 2, "Low", nil)
	require.NoError(t, sink.Send(context.Background(), progress.Event{Stage: progress.StageUploading, Percent: 10}))
}

func TestMessageSink_ReturnsAPIErrors(t *testing.T) {
	api := &fakeAPI{reqErr: errors.New("flood wait")}
	sink := NewMessageSink(api, nil, 1, 2, "Low", nil)
	err := sink.Send(context.Background(), progress.Event{Stage: progress.StageUploading, Percent: 10})
	require.Error(t, err)
}
