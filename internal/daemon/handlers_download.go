package daemon

import (
	"fmt"
	"net/http"

	"audibridge/internal/acquisition"
	"audibridge/internal/audible"
)

type downloadRequest struct {
	CountryCode string              `json:"country_code"`
	Auth        *audible.Credential `json:"auth"`
	ASIN        string              `json:"asin"`
	Bucket      string              `json:"bucket"`
	Path        string              `json:"path"`
}

type downloadAAXCResponse struct {
	Message        string               `json:"message"`
	Status         string               `json:"status"`
	DownloadStatus string               `json:"download_status"`
	AAXCPath       string               `json:"aaxc_path"`
	M4BPath        string               `json:"m4b_path"`
	Metadata       acquisition.Metadata `json:"metadata"`
	JobID          string               `json:"job_id"`
}

type downloadAAXResponse struct {
	Message        string               `json:"message"`
	Status         string               `json:"status"`
	DownloadOutput string               `json:"download_output"`
	AAXPath        string               `json:"aax_path"`
	M4BPath        string               `json:"m4b_path"`
	Metadata       acquisition.Metadata `json:"metadata"`
	JobID          string               `json:"job_id"`
}

const downloadMessage = "Audible file downloaded and uploaded successfully"

func (s *apiServer) handleDownloadAAXC(w http.ResponseWriter, r *http.Request) {
	res, ok := s.acquire(w, r, audible.FormatAAXC)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, downloadAAXCResponse{
		Message:        downloadMessage,
		Status:         "success",
		DownloadStatus: downloadSummary(res),
		AAXCPath:       res.RawPath,
		M4BPath:        res.M4BPath,
		Metadata:       res.Metadata,
		JobID:          res.JobID,
	})
}

func (s *apiServer) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	res, ok := s.acquire(w, r, audible.FormatAAX)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, downloadAAXResponse{
		Message:        downloadMessage,
		Status:         "success",
		DownloadOutput: downloadSummary(res),
		AAXPath:        res.RawPath,
		M4BPath:        res.M4BPath,
		Metadata:       res.Metadata,
		JobID:          res.JobID,
	})
}

// acquire runs one job on the worker pool for the lifetime of the request.
// A client that disconnects cancels the job.
func (s *apiServer) acquire(w http.ResponseWriter, r *http.Request, format audible.Format) (acquisition.Result, bool) {
	const prefix = "Error downloading Audible file"
	var req downloadRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, prefix, err)
		return acquisition.Result{}, false
	}
	cred, err := credentialRequest{Auth: req.Auth}.credential()
	if err != nil {
		s.fail(w, r, prefix, err)
		return acquisition.Result{}, false
	}
	job, err := acquisition.NewJob(acquisition.Request{
		ASIN:        req.ASIN,
		CountryCode: firstNonEmpty(req.CountryCode, cred.LocaleCode, s.cfg.Vendor.DefaultCountry),
		Credential:  cred,
		Bucket:      firstNonEmpty(req.Bucket, s.cfg.Storage.DefaultBucket),
		Prefix:      req.Path,
		Format:      format,
	})
	if err != nil {
		s.fail(w, r, prefix, err)
		return acquisition.Result{}, false
	}
	res, err := s.pool.Submit(r.Context(), job)
	if err != nil {
		s.fail(w, r, prefix, err)
		return acquisition.Result{}, false
	}
	return res, true
}

func downloadSummary(res acquisition.Result) string {
	return fmt.Sprintf("downloaded %d bytes (%s), decrypted %d chapters", res.DownloadedBytes, res.Format, len(res.Metadata.Chapters))
}
