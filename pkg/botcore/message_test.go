package botcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
)

type staticKeyboard string

func (k staticKeyboard) KeyboardJSON() (string, error) {
	if k == "" {
		return "", errors.New("empty keyboard")
	}
	return string(k), nil
}

func TestMessageParamsSingleRecipient(t *testing.T) {
	m := NewMessage([]int64{10}, "hi",
		WithAttachments("photo1_2", "doc3_4"),
		WithKeyboard(staticKeyboard(`{"buttons":[]}`)),
		WithSticker(99),
		WithRandomID(7),
	)
	params, err := m.Params()
	require.NoError(t, err)
	require.Equal(t, int64(10), params["peer_id"])
	require.NotContains(t, params, "user_ids")
	require.Equal(t, "hi", params["message"])
	require.Equal(t, "photo1_2,doc3_4", params["attachment"])
	require.Equal(t, `{"buttons":[]}`, params["keyboard"])
	require.Equal(t, int64(99), params["sticker_id"])
	require.Equal(t, int32(7), params["random_id"])
}

func TestMessageParamsManyRecipients(t *testing.T) {
	params, err := NewMessage([]int64{1, 2, 3}, "x").Params()
	require.NoError(t, err)
	require.Equal(t, "1,2,3", params["user_ids"])
	require.NotContains(t, params, "peer_id")
	require.NotZero(t, params["random_id"])
}

func TestMessageValidation(t *testing.T) {
	_, err := NewMessage(nil, "x").Params()
	require.True(t, boterrors.IsValidation(err))

	peers := make([]int64, MaxRecipients+1)
	for i := range peers {
		peers[i] = int64(i + 1)
	}
	_, err = NewMessage(peers, "x").Params()
	require.True(t, boterrors.IsValidation(err))

	require.NoError(t, NewMessage(peers[:MaxRecipients], "x").Validate())
}

func TestMessageKeyboardError(t *testing.T) {
	_, err := NewMessage([]int64{1}, "x", WithKeyboard(staticKeyboard(""))).Params()
	require.Error(t, err)
}

func TestSessionValue(t *testing.T) {
	s := NewSession("k")
	s.Set("n", 3)
	n, ok := SessionValue[int](s, "n")
	require.True(t, ok)
	require.Equal(t, 3, n)

	_, ok = SessionValue[string](s, "n")
	require.False(t, ok)

	s.Update("n", func(cur any, ok bool) (any, bool) { return cur.(int) + 1, true })
	n, _ = SessionValue[int](s, "n")
	require.Equal(t, 4, n)

	s.Update("n", func(any, bool) (any, bool) { return nil, false })
	_, ok = s.Get("n")
	require.False(t, ok)
	require.Equal(t, "k", s.Key())
}
