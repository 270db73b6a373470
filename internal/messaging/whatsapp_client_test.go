package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWhatsApp(t *testing.T, handler http.HandlerFunc) *WhatsAppClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewWhatsAppClient(WhatsAppConfig{
		BaseURL:       srv.URL + "/",
		APIVersion:    "v21.0",
		AccessToken:   "token-123",
		PhoneNumberID: "555000",
	})
	require.NoError(t, err)
	return client
}

func TestNewWhatsAppClient_RequiresCredentials(t *testing.T) {
	_, err := NewWhatsAppClient(WhatsAppConfig{PhoneNumberID: "1"})
	assert.Error(t, err)
	_, err = NewWhatsAppClient(WhatsAppConfig{AccessToken: "t"})
	assert.Error(t, err)
}

func TestWhatsAppClient_SendText(t *testing.T) {
	var got map[string]any
	client := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/555000/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	})

	raw, err := client.SendText(context.Background(), "91001", Text{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", raw.MessageID)
	assert.Equal(t, http.StatusOK, raw.StatusCode)

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "91001", got["to"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "hello", got["text"].(map[string]any)["body"])
}

func TestWhatsAppClient_SendListTruncatesRowTitles(t *testing.T) {
	var got struct {
		Interactive struct {
			Type   string `json:"type"`
			Header struct {
				Text string `json:"text"`
			} `json:"header"`
			Action struct {
				Button   string `json:"button"`
				Sections []struct {
					Rows []struct {
						ID    string `json:"id"`
						Title string `json:"title"`
					} `json:"rows"`
				} `json:"sections"`
			} `json:"action"`
		} `json:"interactive"`
	}
	client := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.LIST"}]}`))
	})

	_, err := client.SendList(context.Background(), "91001", List{
		Header:     "Machines",
		Body:       "Pick a machine",
		ButtonText: "View machines",
		Rows:       []Row{{ID: "machine_rmg", Title: "Rapid Mixer Granulator (RMG)", Description: "High shear"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "list", got.Interactive.Type)
	assert.Equal(t, "Machines", got.Interactive.Header.Text)
	assert.Equal(t, "View machines", got.Interactive.Action.Button)
	require.Len(t, got.Interactive.Action.Sections, 1)
	row := got.Interactive.Action.Sections[0].Rows[0]
	assert.Equal(t, "machine_rmg", row.ID)
	assert.LessOrEqual(t, utf8.RuneCountInString(row.Title), 24)
	assert.Contains(t, row.Title, "Rapid Mixer")
}

func TestWhatsAppClient_SendButtonsAndTemplate(t *testing.T) {
	var bodies []map[string]any
	client := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		bodies = append(bodies, m)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	})

	_, err := client.SendButtons(context.Background(), "91001", Buttons{
		Body:    "Interested?",
		Buttons: []Button{{ID: "interest_yes", Title: "Yes"}, {ID: "interest_no", Title: "No"}},
	})
	require.NoError(t, err)
	_, err = client.SendTemplate(context.Background(), "91001", Template{Name: "hello_world"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	interactive := bodies[0]["interactive"].(map[string]any)
	assert.Equal(t, "button", interactive["type"])
	buttons := interactive["action"].(map[string]any)["buttons"].([]any)
	assert.Len(t, buttons, 2)

	tpl := bodies[1]["template"].(map[string]any)
	assert.Equal(t, "hello_world", tpl["name"])
	assert.Equal(t, "en_US", tpl["language"].(map[string]any)["code"])
}

func TestWhatsAppClient_ProviderErrorIsReturnedAsRawResult(t *testing.T) {
	client := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Re-engagement message","type":"OAuthException","code":131047,"error_data":{"details":"more than 24 hours"}}}`))
	})

	raw, err := client.SendText(context.Background(), "91001", Text{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	assert.Equal(t, 131047, raw.ErrorCode)
	assert.Contains(t, raw.ErrorMessage, "more than 24 hours")
	assert.Equal(t, OutcomeWindowExpired, Classify(raw, err))
}

func TestWhatsAppClient_ServerErrorWithoutBody(t *testing.T) {
	client := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	raw, err := client.SendText(context.Background(), "91001", Text{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransient, Classify(raw, err))
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(nil)
	raw, err := tr.SendList(context.Background(), "91001", List{Body: "b", ButtonText: "x", Rows: []Row{{ID: "1", Title: "one"}}})
	require.NoError(t, err)
	assert.Equal(t, 200, raw.StatusCode)
	assert.NotEmpty(t, raw.MessageID)
	assert.Equal(t, OutcomeOK, Classify(raw, err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 24))
	got := truncate("Rapid Mixer Granulator (RMG)", 24)
	assert.Equal(t, "Rapid Mixer Granulator…", got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Text{Body: "x"}))
	assert.ErrorIs(t, Validate(Text{Body: " "}), ErrInvalidPayload)
	assert.ErrorIs(t, Validate(nil), ErrInvalidPayload)
	assert.ErrorIs(t, Validate(List{Body: "b", ButtonText: "x"}), ErrInvalidPayload)
	rows := make([]Row, MaxListRows+1)
	for i := range rows {
		rows[i] = Row{ID: "r", Title: "t"}
	}
	assert.ErrorIs(t, Validate(List{Body: "b", ButtonText: "x", Rows: rows}), ErrInvalidPayload)
	assert.ErrorIs(t, Validate(Template{}), ErrInvalidPayload)
}
