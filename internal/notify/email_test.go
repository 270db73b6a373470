package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Machinery Sales Bot" {
		t.Errorf("expected default from name 'Machinery Sales Bot', got %q", sender.fromName)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Custom Name",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Custom Name" {
		t.Errorf("expected from name 'Custom Name', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	var sender *SendGridSender

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "bot@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "sales@example.com",
		ReplyTo: "buyer@example.com",
		Subject: "New lead",
		Body:    "plain",
		HTML:    "<p>html</p>",
		Tags:    map[string]string{"event": "lead_created", "decision": "interested"},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != `"Machinery Sales Bot" <bot@example.com>` {
		t.Fatalf("unexpected from address %q", got)
	}
	body := client.input.Content.Simple.Body
	if aws.ToString(body.Text.Data) != "plain" || aws.ToString(body.Html.Data) != "<p>html</p>" {
		t.Fatalf("unexpected body: %#v", body)
	}
	if len(client.input.ReplyToAddresses) != 1 || client.input.ReplyToAddresses[0] != "buyer@example.com" {
		t.Fatalf("unexpected reply-to %v", client.input.ReplyToAddresses)
	}
	if len(client.input.EmailTags) != 2 || aws.ToString(client.input.EmailTags[0].Name) != "decision" {
		t.Fatalf("expected sorted tags, got %#v", client.input.EmailTags)
	}
}

func TestSendGridSender_BuildsReplyToAndCategories(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "SG.test", FromEmail: "bot@example.com"}, nil)

	message := sender.build(EmailMessage{
		To:      "sales@example.com",
		ReplyTo: "buyer@example.com",
		Subject: "New lead",
		Body:    "plain",
		Tags:    map[string]string{"event": "lead_created", "decision": "interested"},
	})
	if message.ReplyTo == nil || message.ReplyTo.Address != "buyer@example.com" {
		t.Fatalf("unexpected reply-to %#v", message.ReplyTo)
	}
	if len(message.Categories) != 2 || message.Categories[0] != "interested" {
		t.Fatalf("unexpected categories %v", message.Categories)
	}
	if message.From.Name != "Machinery Sales Bot" {
		t.Fatalf("unexpected from %#v", message.From)
	}
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "bot@example.com"}, nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "sales@example.com"}); err == nil {
		t.Fatal("expected error from SES")
	}
}
