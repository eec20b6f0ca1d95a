package markup

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

var _ botcore.Keyboard = (*Keyboard)(nil)

func TestFromLabelsWrapsColumns(t *testing.T) {
	k := FromLabels([]string{"a", "b", "c", "d", "e"}, 0)
	require.Len(t, k.Buttons, 2)
	require.Len(t, k.Buttons[0], 4)
	require.Len(t, k.Buttons[1], 1)

	k = FromLabels([]string{"a", "b", "c"}, 2)
	require.Len(t, k.Buttons, 2)
	require.Equal(t, "c", k.Buttons[1][0].Label)
}

func TestKeyboardJSON(t *testing.T) {
	k := New(
		[]Button{TextButton("Yes", WithColor(ColorPositive)), TextButton("No", WithPayload(map[string]int{"no": 1}))},
	).Row(CallbackButton("Like", map[string]string{"cmd": "like"})).SetOneTime(true)

	out, err := k.KeyboardJSON()
	require.NoError(t, err)

	var decoded struct {
		OneTime bool `json:"one_time"`
		Buttons [][]struct {
			Color  string `json:"color"`
			Action struct {
				Type    string `json:"type"`
				Label   string `json:"label"`
				Payload string `json:"payload"`
			} `json:"action"`
		} `json:"buttons"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.True(t, decoded.OneTime)
	require.Len(t, decoded.Buttons, 2)

	yes := decoded.Buttons[0][0]
	require.Equal(t, "positive", yes.Color)
	require.Equal(t, "text", yes.Action.Type)
	require.JSONEq(t, `{"button":"Yes"}`, yes.Action.Payload)

	require.JSONEq(t, `{"no":1}`, decoded.Buttons[0][1].Action.Payload)
	require.Equal(t, "default", decoded.Buttons[0][1].Color)

	like := decoded.Buttons[1][0]
	require.Equal(t, "callback", like.Action.Type)
	require.JSONEq(t, `{"cmd":"like"}`, like.Action.Payload)
}

func TestEmptyKeyboard(t *testing.T) {
	out, err := Empty().KeyboardJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"buttons":[]}`, out)

	var nilKb *Keyboard
	_, err = nilKb.KeyboardJSON()
	require.Error(t, err)
}

func TestButtonPayloadEncodeError(t *testing.T) {
	k := New([]Button{TextButton("x", WithPayload(make(chan int)))})
	_, err := k.KeyboardJSON()
	require.Error(t, err)
}

func TestKeyboardInMessage(t *testing.T) {
	params, err := botcore.NewMessage([]int64{1}, "pick", botcore.WithKeyboard(FromLabels([]string{"a"}, 1))).Params()
	require.NoError(t, err)
	require.Contains(t, params["keyboard"], `"label":"a"`)
}
