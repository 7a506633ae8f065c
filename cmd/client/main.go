package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:3000"

type FileClient struct {
	baseURL string
	client  *http.Client
}

func NewFileClient(baseURL string) *FileClient {
	return &FileClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// UploadFiles sends every file as one field of a single multipart request.
// The body is buffered so the request carries a Content-Length.
func (fc *FileClient) UploadFiles(ctx context.Context, paths []string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, path := range paths {
		if err := addFilePart(mw, path); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fc.baseURL+"/api/upload", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := fc.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	reason := serverError(resp)
	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("upload exceeds the server's size limit: %s", reason)
	case http.StatusUnsupportedMediaType:
		return fmt.Errorf("only PNG and JPEG images are accepted: %s", reason)
	case http.StatusTooManyRequests:
		return fmt.Errorf("too many uploads, try again later")
	default:
		return fmt.Errorf("upload failed: %s: %s", resp.Status, reason)
	}
}

// apiError mirrors the JSON error body the server renders.
type apiError struct {
	Status  string `json:"status"`
	Message string `json:"error"`
}

// serverError extracts the server's explanation from an error response,
// falling back to the raw body.
func serverError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr apiError
	if err := render.DecodeJSON(bytes.NewReader(body), &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	return strings.TrimSpace(string(body))
}

func addFilePart(mw *multipart.Writer, path string) error {
	contentType := detectContentType(path)
	if contentType == "" {
		return fmt.Errorf("%s: unsupported file type", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// ListGallery returns the server's gallery HTML fragment.
func (fc *FileClient) ListGallery(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fc.baseURL+"/lists", nil)
	if err != nil {
		return "", err
	}

	resp, err := fc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list failed: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DownloadFile fetches a stored original, or its preview, into outputPath.
func (fc *FileClient) DownloadFile(ctx context.Context, name, outputPath string, preview bool) error {
	url := fc.baseURL + "/static/" + name
	if preview {
		url = fc.baseURL + "/static/preview/" + name
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := fc.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// detectContentType maps the extensions the server accepts. Anything else
// yields "".
func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return ""
	}
}

func newRootCmd() *cobra.Command {
	var serverURL string

	root := &cobra.Command{
		Use:          "imagedrop-client",
		Short:        "Upload images to and browse an imagedrop server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "server base URL")

	uploadCmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload PNG or JPEG files in a single request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewFileClient(serverURL).UploadFiles(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ uploaded %d file(s)\n", len(args))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the gallery HTML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := NewFileClient(serverURL).ListGallery(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), html)
			return nil
		},
	}

	var preview bool
	downloadCmd := &cobra.Command{
		Use:   "download <name> <output>",
		Short: "Download a stored image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewFileClient(serverURL).DownloadFile(cmd.Context(), args[0], args[1], preview); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ saved %s\n", args[1])
			return nil
		},
	}
	downloadCmd.Flags().BoolVar(&preview, "preview", false, "download the preview instead of the original")

	root.AddCommand(uploadCmd, listCmd, downloadCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
