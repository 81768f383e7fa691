package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

const (
	defaultDriveURL = "https://www.googleapis.com"
	folderMimeType  = "application/vnd.google-apps.folder"
)

// DriveClient covers the subset of Google Drive v3 the bot needs: folder
// lookup, folder creation and multipart upload.
type DriveClient struct {
	baseURL string
	client  *http.Client
}

func NewDriveClient(client *http.Client, baseURL string) *DriveClient {
	if baseURL == "" {
		baseURL = defaultDriveURL
	}
	return &DriveClient{baseURL: baseURL, client: client}
}

type driveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListFolders returns the ids of non-trashed folders called name directly
// under parentID, following pagination.
func (c *DriveClient) ListFolders(ctx context.Context, parentID, name string) ([]string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)

	var ids []string
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", q)
		params.Set("fields", "nextPageToken,files(id,name)")
		params.Set("supportsAllDrives", "true")
		params.Set("includeItemsFromAllDrives", "true")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/drive/v3/files?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		var res struct {
			NextPageToken string      `json:"nextPageToken"`
			Files         []driveFile `json:"files"`
		}
		if err := doJSON(c.client, req, &res); err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		for _, f := range res.Files {
			ids = append(ids, f.ID)
		}
		if res.NextPageToken == "" {
			return ids, nil
		}
		pageToken = res.NextPageToken
	}
}

func (c *DriveClient) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", fmt.Errorf("encode folder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/drive/v3/files?supportsAllDrives=true&fields=id", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res driveFile
	if err := doJSON(c.client, req, &res); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("create folder: missing id in response")
	}
	return res.ID, nil
}

// Upload stores data as a new file inside folderID.
func (c *DriveClient) Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := json.Marshal(map[string]any{"name": name, "parents": []string{folderID}})
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", fmt.Errorf("metadata part: %w", err)
	}
	if _, err := part.Write(meta); err != nil {
		return "", fmt.Errorf("metadata part: %w", err)
	}

	part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return "", fmt.Errorf("media part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("media part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/upload/drive/v3/files?uploadType=multipart&supportsAllDrives=true&fields=id", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+w.Boundary())

	var res driveFile
	if err := doJSON(c.client, req, &res); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return res.ID, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
