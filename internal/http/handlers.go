package http

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"outlay/internal/core"
	applog "outlay/internal/log"
	"outlay/internal/report"
	"outlay/internal/storage"
)

const maxReceiptSize = 10 << 20 // 10 MiB

// reqlog returns the request-scoped logger installed by the log middleware.
func reqlog(r *http.Request) *applog.Logger {
	return applog.FromContext(r.Context())
}

// currentUser resolves the signed-in user or writes a 401 fragment.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := s.ident.CurrentUser(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<div class="error">Session expired. Reload the page to sign in.</div>`))
		return "", false
	}
	return user, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		reqlog(r).ErrorContext(r.Context(), "Templates not loaded", applog.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	user, signedIn := s.ident.CurrentUser(r.Context())
	if !signedIn {
		if err := s.templates.ExecuteTemplate(w, "login.html", nil); err != nil {
			reqlog(r).ErrorContext(r.Context(), "Login template execution failed", applog.FieldError, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	data := struct {
		User       string
		Today      string
		Categories []string
	}{
		User:       user,
		Today:      time.Now().UTC().Format("2006-01-02"),
		Categories: core.Categories(),
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		reqlog(r).ErrorContext(r.Context(), "Index template execution failed", applog.FieldError, err, "template", "index.html")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	user := sanitizeInput(r.Form.Get("username"))
	token, err := s.ident.SignIn(user)
	if err != nil {
		reqlog(r).WithComponent(applog.ComponentIdentity).WarnContext(r.Context(), "Sign-in rejected", applog.FieldError, err)
		http.Error(w, "a username is required", http.StatusUnprocessableEntity)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if err := s.ident.SignOut(cookie.Value); err != nil {
			reqlog(r).WithComponent(applog.ComponentIdentity).DebugContext(r.Context(), "Sign-out of unknown token", applog.FieldError, err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxReceiptSize); err != nil {
		reqlog(r).ErrorContext(r.Context(), "Parse form error", applog.FieldError, err, applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">Invalid request format</div>`))
		return
	}

	date, err := core.ParseDate(r.Form.Get("date"))
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">Invalid date</div>`))
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.Form.Get("amount")))
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">Invalid amount</div>`))
		return
	}

	exp := core.ExpenseRecord{
		Owner:       user,
		Category:    sanitizeInput(r.Form.Get("category")),
		Date:        date,
		Amount:      amount,
		Currency:    core.NormalizeCurrency(r.Form.Get("currency")),
		Description: sanitizeInput(r.Form.Get("description")),
		ClaimNote:   sanitizeInput(r.Form.Get("claim_note")),
		Paid:        r.Form.Get("paid") == "on",
	}
	if err := exp.Validate(); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">Invalid expense: ` + template.HTMLEscapeString(err.Error()) + `</div>`))
		return
	}

	receipt, receiptName, err := readReceiptUpload(r)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(err.Error()) + `</div>`))
		return
	}

	created, err := s.expenses.CreateExpense(r.Context(), exp, receipt, receiptName)
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "Expense create error",
			applog.FieldError, err,
			applog.FieldOperation, applog.OpCreate,
			applog.FieldOwner, user,
			applog.FieldCategory, exp.Category)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">Failed to save the expense</div>`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<div class="success">Saved: ` +
		template.HTMLEscapeString(created.Description) +
		` — ` + template.HTMLEscapeString(formatAmount(created.Amount, created.Currency)) + `</div>`))
}

// readReceiptUpload pulls the optional receipt file out of the multipart
// form.
func readReceiptUpload(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("receipt")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("receipt upload unreadable")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReceiptSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("receipt upload unreadable")
	}
	if len(data) > maxReceiptSize {
		return nil, "", fmt.Errorf("receipt too large (max 10 MiB)")
	}
	return data, header.Filename, nil
}

func (s *Server) handleUpdateClaim(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">Invalid request format</div>`))
		return
	}

	id := chi.URLParam(r, "id")
	paid := r.Form.Get("paid") == "on" || r.Form.Get("paid") == "true"
	note := sanitizeInput(r.Form.Get("claim_note"))

	err := s.expenses.UpdateClaim(r.Context(), id, user, paid, note)
	if errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<div class="error">Expense not found</div>`))
		return
	}
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "Claim update error", applog.FieldError, err, applog.FieldOperation, applog.OpUpdate, applog.FieldRecordID, id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">Failed to update the claim</div>`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<div class="success">Claim updated</div>`))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	err := s.expenses.DeleteExpense(r.Context(), id, user)
	if errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<div class="error">Expense not found</div>`))
		return
	}
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "Expense delete error", applog.FieldError, err, applog.FieldOperation, applog.OpDelete, applog.FieldRecordID, id)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<div class="error">Failed to delete the expense</div>`))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// expenseRow is one rendered table line.
type expenseRow struct {
	ID          string
	Date        string
	Category    string
	Description string
	Amount      string
	USD         string
	Paid        bool
	ClaimNote   string
	ReceiptURL  string
}

func (s *Server) expenseRows(r *http.Request, records []core.ExpenseRecord) []expenseRow {
	rows := make([]expenseRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, expenseRow{
			ID:          rec.ID,
			Date:        rec.Date.String(),
			Category:    report.DisplayCategory(rec.Category),
			Description: rec.Description,
			Amount:      formatAmount(rec.Amount, rec.Currency),
			USD:         formatUSD(s.converter.Normalize(rec.Amount, rec.Currency)),
			Paid:        rec.Paid,
			ClaimNote:   rec.ClaimNote,
			ReceiptURL:  s.resolver.ResolveForDisplay(r.Context(), rec.ReceiptRef),
		})
	}
	return rows
}

func (s *Server) handleExpenseTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	filter, err := parseFilterParams(r, user)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(err.Error()) + `</div>`))
		return
	}

	v, err := s.views.Acquire(r.Context(), user)
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "View acquire error", applog.FieldError, err, applog.FieldOperation, applog.OpQuery, applog.FieldOwner, user)
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to load expenses</div>`))
		return
	}

	// Only refetch when the requested window actually changed; unchanged
	// requests render straight from the cache.
	if filter != v.Filter() {
		if err := s.views.SetFilter(r.Context(), filter); err != nil {
			reqlog(r).ErrorContext(r.Context(), "View filter error", applog.FieldError, err, applog.FieldOwner, user)
			_, _ = w.Write([]byte(`<div class="placeholder">Failed to load expenses</div>`))
			return
		}
	}

	records := v.Snapshot()
	data := struct {
		Rows  []expenseRow
		From  string
		To    string
		Paid  bool
		Count int
	}{
		Rows:  s.expenseRows(r, records),
		From:  filter.From.String(),
		To:    filter.To.String(),
		Paid:  filter.PaidOnly,
		Count: len(records),
	}

	if err := s.templates.ExecuteTemplate(w, "expense_table.html", data); err != nil {
		reqlog(r).ErrorContext(r.Context(), "Template execution error", applog.FieldError, err, applog.FieldOperation, applog.OpRender, "template", "expense_table.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to render expenses</div>`))
	}
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	v, err := s.views.Acquire(r.Context(), user)
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "View acquire error", applog.FieldError, err, applog.FieldOperation, applog.OpQuery, applog.FieldOwner, user)
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to load claims</div>`))
		return
	}

	var paid []core.ExpenseRecord
	for _, rec := range v.Snapshot() {
		if rec.Paid {
			paid = append(paid, rec)
		}
	}

	data := struct {
		Rows  []expenseRow
		Count int
	}{Rows: s.expenseRows(r, paid), Count: len(paid)}

	if err := s.templates.ExecuteTemplate(w, "claims.html", data); err != nil {
		reqlog(r).ErrorContext(r.Context(), "Template execution error", applog.FieldError, err, applog.FieldOperation, applog.OpRender, "template", "claims.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to render claims</div>`))
	}
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	v, err := s.views.Acquire(r.Context(), user)
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "View acquire error", applog.FieldError, err, applog.FieldOperation, applog.OpQuery, applog.FieldOwner, user)
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to load breakdown</div>`))
		return
	}

	summary := report.Summarize(v.Snapshot(), s.converter)

	type row struct {
		Name       string
		Sum        string
		Percentage string
		Width      int
	}
	data := struct {
		Total string
		Rows  []row
	}{Total: formatUSD(summary.Total)}

	for _, entry := range summary.Breakdown {
		width := int(entry.Percentage + 0.5)
		if width > 0 && width < 2 {
			width = 2 // keep tiny shares visible
		}
		if width > 100 {
			width = 100
		}
		data.Rows = append(data.Rows, row{
			Name:       entry.Category,
			Sum:        formatUSD(entry.Sum),
			Percentage: strconv.FormatFloat(entry.Percentage, 'f', 1, 64) + "%",
			Width:      width,
		})
	}

	if err := s.templates.ExecuteTemplate(w, "breakdown.html", data); err != nil {
		reqlog(r).ErrorContext(r.Context(), "Template execution error", applog.FieldError, err, applog.FieldOperation, applog.OpRender, "template", "breakdown.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Failed to render breakdown</div>`))
	}
}

// handleEvents streams a server-sent event whenever the user's view
// applies a fresh snapshot, so the browser re-pulls the partials.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := s.ident.CurrentUser(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	changes, cancel, err := s.views.Watch(r.Context(), user)
	if err != nil {
		reqlog(r).ErrorContext(r.Context(), "Event stream setup failed", applog.FieldError, err, applog.FieldOwner, user)
		http.Error(w, "event stream unavailable", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if _, err := fmt.Fprint(w, "event: change\ndata: refresh\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleReceipt serves disk-stored receipts after verifying the URL
// signature produced by the disk store.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rawPath := chi.URLParam(r, "*")
	objPath, err := url.PathUnescape(rawPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}

	if err := s.store.Verify(objPath, expires, r.URL.Query().Get("sig")); err != nil {
		reqlog(r).WarnContext(r.Context(), "Receipt access denied", applog.FieldError, err, applog.FieldPath, objPath)
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}

	data, err := s.store.Open(objPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(objPath))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}
