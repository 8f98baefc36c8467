package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type createFunc func(ctx context.Context, name string, body io.Reader) (string, error)
type updateFunc func(ctx context.Context, fileID string, body io.Reader) error

// DriveExporter uploads rendered sessions as Google Docs into one folder.
// Re-exporting a session updates its existing document.
type DriveExporter struct {
	create  createFunc
	update  updateFunc
	fileIDs map[string]string
	mu      sync.Mutex
}

func NewDriveExporter(ctx context.Context, credPath, folderID string) (*DriveExporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &DriveExporter{
		create: func(ctx context.Context, name string, body io.Reader) (string, error) {
			doc, err := svc.Files.Create(&drive.File{
				Name:     name,
				MimeType: "application/vnd.google-apps.document",
				Parents:  []string{folderID},
			}).Media(body).Context(ctx).Do()
			if err != nil {
				return "", err
			}
			return doc.Id, nil
		},
		update: func(ctx context.Context, fileID string, body io.Reader) error {
			_, err := svc.Files.Update(fileID, &drive.File{}).Media(body).Context(ctx).Do()
			return err
		},
		fileIDs: make(map[string]string),
	}, nil
}

func (e *DriveExporter) Export(ctx context.Context, doc Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	body := strings.NewReader(RenderMarkdown(doc))

	if fileID, ok := e.fileIDs[doc.SessionID]; ok {
		if err := e.update(ctx, fileID, body); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	id, err := e.create(ctx, FileName(doc), body)
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}
	e.fileIDs[doc.SessionID] = id
	return nil
}
