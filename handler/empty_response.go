package handler

import "net/http"

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// Empty responds 204 No Content.
func Empty() Response {
	return emptyResponse{status: http.StatusNoContent}
}

func EmptyWithStatus(status int) Response {
	return emptyResponse{status: status}
}

type blobResponse struct {
	contentType string
	body        []byte
	headers     map[string]string
}

func (b blobResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	for k, v := range b.headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", b.contentType)
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(b.body)
	return err
}

// Blob responds 200 with a raw body. headers are set before the body.
func Blob(contentType string, body []byte, headers map[string]string) Response {
	return blobResponse{contentType: contentType, body: body, headers: headers}
}
