package ingestion

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
)

// AuthCodeFunc shows authURL to the user and returns the authorization code they paste back
type AuthCodeFunc func(authURL string) (string, error)

// GmailOptions locates the OAuth client secret and the cached token
type GmailOptions struct {
	CredentialsPath string
	TokenPath       string
	UploadsDir      string
}

// GmailHandler manages Gmail operations for fetching attachments
type GmailHandler struct {
	service    *gmail.Service
	uploadsDir string
	logger     *zap.Logger
}

// NewGmailHandler creates a new Gmail handler that asks for the authorization code on stdin
func NewGmailHandler(ctx context.Context, opts GmailOptions, log *zap.Logger) (*GmailHandler, error) {
	return NewGmailHandlerWithCallback(ctx, opts, StdinAuthCode, log)
}

// NewGmailHandlerWithCallback creates a Gmail handler using prompt for the
// first-time OAuth consent, so GUI and CLI callers can present the URL their own way.
func NewGmailHandlerWithCallback(ctx context.Context, opts GmailOptions, prompt AuthCodeFunc, log *zap.Logger) (*GmailHandler, error) {
	if opts.CredentialsPath == "" {
		opts.CredentialsPath = "credentials.json"
	}
	if opts.TokenPath == "" {
		opts.TokenPath = "token.json"
	}

	b, err := os.ReadFile(opts.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(ctx, config, opts.TokenPath, prompt)
	if err != nil {
		return nil, err
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail client: %w", err)
	}

	return &GmailHandler{
		service:    srv,
		uploadsDir: opts.UploadsDir,
		logger:     logger.OrNop(log),
	}, nil
}

// getClient retrieves a cached token, or runs the consent flow and caches the result
func getClient(ctx context.Context, config *oauth2.Config, tokFile string, prompt AuthCodeFunc) (*http.Client, error) {
	tok, err := tokenFromFile(tokFile)
	if err != nil {
		tok, err = getTokenFromWeb(ctx, config, prompt)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

// getTokenFromWeb requests a token from the web
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, prompt AuthCodeFunc) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	authCode, err := prompt(authURL)
	if err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

// StdinAuthCode prints authURL and reads the code from standard input
func StdinAuthCode(authURL string) (string, error) {
	fmt.Printf("Go to the following link in your browser then type the authorization code: \n%v\n", authURL)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	return nil
}

// FetchAttachments downloads the CV attachments of every message with the
// given subject into the uploads directory, named <Sender>_<original>.
// It returns the number of files saved.
func (gh *GmailHandler) FetchAttachments(ctx context.Context, subject string) (int, error) {
	if err := os.MkdirAll(gh.uploadsDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	user := "me"
	query := fmt.Sprintf("subject:%q has:attachment", subject)

	var messages []*gmail.Message
	err := gh.service.Users.Messages.List(user).Q(query).Pages(ctx, func(r *gmail.ListMessagesResponse) error {
		messages = append(messages, r.Messages...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unable to retrieve messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, fmt.Errorf("no messages found with subject: %s", subject)
	}

	saved := 0
	for _, msg := range messages {
		message, err := gh.service.Users.Messages.Get(user, msg.Id).Context(ctx).Do()
		if err != nil {
			gh.logger.Warn("unable to retrieve message", zap.String("message_id", msg.Id), zap.Error(err))
			continue
		}

		senderName := extractSenderName(message)

		for _, part := range attachmentParts(message.Payload) {
			if !IsSupported(part.Filename) {
				continue
			}

			attachment, err := gh.service.Users.Messages.Attachments.Get(user, msg.Id, part.Body.AttachmentId).Context(ctx).Do()
			if err != nil {
				gh.logger.Warn("unable to retrieve attachment", zap.String("filename", part.Filename), zap.Error(err))
				continue
			}

			data, err := base64.URLEncoding.DecodeString(attachment.Data)
			if err != nil {
				gh.logger.Warn("unable to decode attachment", zap.String("filename", part.Filename), zap.Error(err))
				continue
			}

			newFilename := fmt.Sprintf("%s_%s", senderName, safeFilename(part.Filename))
			filePath := filepath.Join(gh.uploadsDir, newFilename)
			if err := os.WriteFile(filePath, data, 0644); err != nil {
				gh.logger.Warn("unable to write file", zap.String("path", filePath), zap.Error(err))
				continue
			}

			saved++
			gh.logger.Info("downloaded attachment", zap.String("filename", newFilename))
		}
	}

	return saved, nil
}

// attachmentParts walks a MIME tree and returns every part carrying an attachment
func attachmentParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}

	var out []*gmail.MessagePart
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		out = append(out, part)
	}
	for _, child := range part.Parts {
		out = append(out, attachmentParts(child)...)
	}
	return out
}

// extractSenderName extracts the sender's name from email headers
func extractSenderName(message *gmail.Message) string {
	if message.Payload == nil {
		return "Unknown"
	}
	for _, header := range message.Payload.Headers {
		if header.Name == "From" {
			// Parse "Name <email@example.com>" format
			from := header.Value
			if idx := strings.Index(from, "<"); idx > 0 {
				name := strings.Trim(strings.TrimSpace(from[:idx]), `"`)
				name = strings.ReplaceAll(name, " ", "")
				if name != "" {
					return safeFilename(name)
				}
			}
			// If no name, use email prefix
			from = strings.TrimPrefix(strings.TrimSpace(from), "<")
			if idx := strings.Index(from, "@"); idx > 0 {
				return safeFilename(from[:idx])
			}
			return "Unknown"
		}
	}
	return "Unknown"
}

var unsafeFilenameChars = strings.NewReplacer("/", "_", `\`, "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_")

func safeFilename(name string) string {
	return unsafeFilenameChars.Replace(strings.TrimSpace(name))
}
