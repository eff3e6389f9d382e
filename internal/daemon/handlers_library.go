package daemon

import (
	"net/http"

	"audibridge/internal/audible"
)

type libraryResponse struct {
	Status  string                `json:"status"`
	Library []audible.LibraryItem `json:"library"`
}

func (s *apiServer) handleLibrary(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "Error retrieving library", err)
		return
	}
	cred, err := req.credential()
	if err != nil {
		s.fail(w, r, "Error retrieving library", err)
		return
	}
	items, err := s.lister.List(r.Context(), cred)
	if err != nil {
		s.fail(w, r, "Error retrieving library", err)
		return
	}
	if items == nil {
		items = []audible.LibraryItem{}
	}
	s.writeJSON(w, http.StatusOK, libraryResponse{Status: "success", Library: items})
}
