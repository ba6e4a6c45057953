package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jdholdren/brief/internal/brief"
	brerrs "github.com/jdholdren/brief/internal/errors"
	"github.com/jdholdren/brief/internal/serverutil"
)

type PostFeedUpdateReq struct {
	Feed    brief.ParsedFeed    `json:"feed"`
	Entries []brief.ParsedEntry `json:"entries"`
}

func (req PostFeedUpdateReq) Validate() error {
	var details []brerrs.Detail
	for _, e := range req.Entries {
		if e.URL == "" && e.ProvidedID == "" {
			details = append(details, brerrs.Detail{Field: "entries", Error: "every entry needs an id or a url"})
			break
		}
	}
	if len(details) > 0 {
		return brerrs.E("invalid feed update", details, http.StatusBadRequest)
	}

	return nil
}

type FeedUpdateResp struct {
	Inserted int `json:"inserted"`
}

func (s Server) postFeedUpdate(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PostFeedUpdateReq](r.Body)
	if err != nil {
		return err
	}

	pf := body.Feed
	pf.FeedID = mux.Vars(r)["feedID"]
	if len(body.Entries) > 0 {
		pf.Entries = body.Entries
	}
	n, err := s.repo.UpdateFeed(r.Context(), pf)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, FeedUpdateResp{Inserted: n})
}

func (s Server) postFeedLoading(w http.ResponseWriter, r *http.Request) error {
	s.repo.FeedLoading(r.Context(), mux.Vars(r)["feedID"])
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type PostFeedErrorReq struct {
	Message string `json:"message"`
}

func (req PostFeedErrorReq) Validate() error {
	if req.Message == "" {
		return brerrs.E("message is required", http.StatusBadRequest)
	}
	return nil
}

func (s Server) postFeedError(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PostFeedErrorReq](r.Body)
	if err != nil {
		return err
	}

	s.repo.FeedError(r.Context(), mux.Vars(r)["feedID"], errors.New(body.Message))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type FeedsResp struct {
	Feeds []brief.Feed `json:"feeds"`
}

func (s Server) getFeeds(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx   = r.Context()
		feeds []brief.Feed
		err   error
	)
	if r.URL.Query().Get("folders") == "false" {
		feeds, err = s.repo.AllFeeds(ctx)
	} else {
		feeds, err = s.repo.AllFeedsAndFolders(ctx)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, FeedsResp{Feeds: feeds})
}

func (s Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	feed, err := s.repo.Feed(r.Context(), mux.Vars(r)["feedID"])
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, feed)
}

type PutFeedOptionsReq brief.FeedOptions

func (req PutFeedOptionsReq) Validate() error {
	var details []brerrs.Detail
	if req.EntryAgeLimit < 0 {
		details = append(details, brerrs.Detail{Field: "entry_age_limit", Error: "must not be negative"})
	}
	if req.MaxEntries < 0 {
		details = append(details, brerrs.Detail{Field: "max_entries", Error: "must not be negative"})
	}
	if req.UpdateInterval < 0 {
		details = append(details, brerrs.Detail{Field: "update_interval", Error: "must not be negative"})
	}
	if len(details) > 0 {
		return brerrs.E("invalid feed options", details, http.StatusBadRequest)
	}

	return nil
}

func (s Server) putFeedOptions(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)
	body, err := serverutil.DecodeValid[PutFeedOptionsReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.repo.SetFeedOptions(ctx, feedID, brief.FeedOptions(body)); err != nil {
		return err
	}

	feed, err := s.repo.Feed(ctx, feedID)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, feed)
}

type PutHomeFolderReq struct {
	FolderID int64 `json:"folder_id"`
}

func (req PutHomeFolderReq) Validate() error {
	if req.FolderID <= 0 {
		return brerrs.E("folder_id is required", http.StatusBadRequest)
	}
	return nil
}

func (s Server) putHomeFolder(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PutHomeFolderReq](r.Body)
	if err != nil {
		return err
	}
	if err := s.reconciler.SetHomeFolder(r.Context(), body.FolderID); err != nil {
		return err
	}

	return s.getFeeds(w, r)
}

func (s Server) postSync(w http.ResponseWriter, r *http.Request) error {
	if err := s.reconciler.Sync(r.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
