package server

import (
	"net/http"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/serverutil"
)

type QueryReq struct {
	Query brief.Query `json:"query"`
}

func (req QueryReq) Validate() error { return req.Query.Validate() }

type EntriesResp struct {
	Entries []brief.Entry `json:"entries"`
}

func (s Server) postEntriesQuery(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[QueryReq](r.Body)
	if err != nil {
		return err
	}

	entries, err := s.repo.Entries(r.Context(), body.Query)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, EntriesResp{Entries: entries})
}

func (s Server) postEntriesList(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[QueryReq](r.Body)
	if err != nil {
		return err
	}

	list, err := s.repo.EntryList(r.Context(), body.Query)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, list)
}

type CountResp struct {
	Count int `json:"count"`
}

func (s Server) postEntriesCount(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[QueryReq](r.Body)
	if err != nil {
		return err
	}

	n, err := s.repo.Count(r.Context(), body.Query)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, CountResp{Count: n})
}

type MarkReadReq struct {
	Query brief.Query `json:"query"`
	Read  bool        `json:"read"`
}

func (req MarkReadReq) Validate() error { return req.Query.Validate() }

func (s Server) postMarkRead(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[MarkReadReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.repo.MarkRead(r.Context(), body.Query, body.Read); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type DeleteReq struct {
	Query brief.Query      `json:"query"`
	Mode  brief.DeleteMode `json:"mode"`
}

func (req DeleteReq) Validate() error {
	if err := req.Query.Validate(); err != nil {
		return err
	}
	return req.Mode.Validate()
}

func (s Server) postDelete(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[DeleteReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(r.Context(), body.Query, body.Mode); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type StarReq struct {
	Query   brief.Query `json:"query"`
	Starred bool        `json:"starred"`
}

func (req StarReq) Validate() error { return req.Query.Validate() }

func (s Server) postStar(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[StarReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.repo.Star(r.Context(), body.Query, body.Starred); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

type PurgeReq struct {
	Expire bool `json:"expire"`
}

func (PurgeReq) Validate() error { return nil }

func (s Server) postPurge(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PurgeReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.repo.PurgeEntries(r.Context(), body.Expire); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) postCompact(w http.ResponseWriter, r *http.Request) error {
	if err := s.repo.CompactDatabase(r.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
