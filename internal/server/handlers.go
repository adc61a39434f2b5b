package server

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/pipeline"
	"github.com/MeKo-Tech/imagex/internal/preview"
	"github.com/MeKo-Tech/imagex/internal/tone"
	"github.com/MeKo-Tech/imagex/internal/types"
)

type sessionResponse struct {
	ID string `json:"id"`
	pipeline.Snapshot
}

// patchRequest changes only the fields that are present.
type patchRequest struct {
	Brightness *int    `json:"brightness"`
	Contrast   *int    `json:"contrast"`
	Saturation *int    `json:"saturation"`
	Filter     *string `json:"filter"`
}

func (s *Server) getFilters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"filters": filter.Kinds(),
		"formats": codec.Formats(),
		"params": gin.H{
			"min":     tone.MinValue,
			"max":     tone.MaxValue,
			"default": tone.Neutral,
		},
	})
}

func (s *Server) postSession(c *gin.Context) {
	sess, err := s.newSession()
	if err != nil {
		s.fail(c, err)
		return
	}

	// An empty body creates an idle session that receives its image later.
	if c.Request.ContentLength == 0 {
		c.JSON(http.StatusCreated, respond(sess))
		return
	}

	if !s.upload(c, sess, http.StatusCreated) {
		s.removeSession(sess.id)
	}
}

func (s *Server) putImage(c *gin.Context) {
	sess, err := s.lookup(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.upload(c, sess, http.StatusOK)
}

// upload starts decoding the request image. Unless ?wait=false it waits for the
// render and reports its outcome. It reports whether the request succeeded.
func (s *Server) upload(c *gin.Context, sess *session, status int) bool {
	data, err := s.readUpload(c)
	if err != nil {
		s.fail(c, err)
		return false
	}
	s.totalUploads.Add(1)

	// Decodes run on the server context so that ?wait=false uploads outlive the request.
	sess.mu.Lock()
	done := s.track(sess.pipeline.Upload(s.ctx, data))
	sess.mu.Unlock()

	if c.Query("wait") == "false" {
		c.JSON(http.StatusAccepted, respond(sess))
		return true
	}

	select {
	case err = <-done:
	case <-c.Request.Context().Done():
		// The decode keeps running on the server context; only the response is lost.
		s.log().Debug("client went away during upload",
			"path", c.FullPath(), "session", sess.id, "error", c.Request.Context().Err())
		return false
	}
	if err != nil {
		s.fail(c, err)
		return false
	}

	c.JSON(status, respond(sess))
	return true
}

// track counts failed uploads and forwards the outcome.
func (s *Server) track(done <-chan error) <-chan error {
	out := make(chan error, 1)
	go func() {
		err := <-done
		if err != nil && !errors.Is(err, pipeline.ErrSuperseded) {
			s.failedUploads.Add(1)
		}
		out <- err
	}()
	return out
}

// readUpload returns the "image" part of a multipart form, or the raw body otherwise.
// A readable image header is checked against MaxPixels before anything is decoded;
// unreadable data is left for the decoder to reject.
func (s *Server) readUpload(c *gin.Context) ([]byte, error) {
	data, err := s.readUploadBody(c)
	if err != nil {
		return nil, err
	}

	_, size, err := codec.DecodeConfig(data)
	if err == nil && size.Pixels() > s.cfg.MaxPixels {
		return nil, fmt.Errorf("%w: %s is more than %d pixels", errImageTooLarge, size, s.cfg.MaxPixels)
	}
	return data, nil
}

func (s *Server) readUploadBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
		return data, nil
	}

	fh, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("missing image part: %v: %w", err, types.ErrInvalidParameter)
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return nil, &http.MaxBytesError{Limit: s.cfg.MaxUploadBytes}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.lookup(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(sess))
}

func (s *Server) patchSession(c *gin.Context) {
	sess, err := s.lookup(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("invalid body: %v: %w", err, types.ErrInvalidParameter))
		return
	}

	sess.mu.Lock()
	snap := sess.pipeline.Snapshot()
	params, kind := snap.Params, snap.Filter
	if req.Brightness != nil {
		params.Brightness = *req.Brightness
	}
	if req.Contrast != nil {
		params.Contrast = *req.Contrast
	}
	if req.Saturation != nil {
		params.Saturation = *req.Saturation
	}
	if req.Filter != nil {
		kind, err = filter.ParseKind(*req.Filter)
	}
	if err == nil {
		err = sess.pipeline.Apply(params, kind)
	}
	sess.mu.Unlock()

	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, respond(sess))
}

func (s *Server) deleteSession(c *gin.Context) {
	if !s.removeSession(c.Param("id")) {
		s.fail(c, fmt.Errorf("%w: %s", errSessionNotFound, c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getPreview(c *gin.Context) {
	sess, err := s.lookup(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	maxSize := s.cfg.PreviewMaxSize
	if v := c.Query("max"); v != "" {
		maxSize, err = strconv.Atoi(v)
		if err != nil || maxSize <= 0 {
			s.fail(c, fmt.Errorf("invalid max %q: %w", v, types.ErrInvalidParameter))
			return
		}
	}

	frame, ok := sess.pipeline.Frame()
	if !ok {
		s.fail(c, pipeline.ErrNotReady)
		return
	}

	var buf bytes.Buffer
	enc := codec.Encoder{Format: codec.PNG, PNGCompression: png.BestSpeed}
	if err := enc.EncodeImage(&buf, preview.Render(frame.Buffer, maxSize)); err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Cache-Control", s.cfg.CacheControl)
	c.Header("X-Render-Seq", strconv.FormatUint(frame.Render, 10))
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

func (s *Server) getExport(c *gin.Context) {
	sess, err := s.lookup(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	enc, err := s.encoderFor(c.Query("format"), c.Query("quality"))
	if err != nil {
		s.fail(c, err)
		return
	}

	var buf bytes.Buffer
	sess.mu.Lock()
	err = sess.pipeline.Export(&buf, enc)
	snap := sess.pipeline.Snapshot()
	sess.mu.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	s.totalExports.Add(1)

	if s.cfg.Archive != nil {
		name := fmt.Sprintf("%s-%s-r%d.%s", codec.DefaultFileBase, sess.id[:8], snap.Renders, enc.OutputFormat().Extension())
		err := s.cfg.Archive.Put(archive.Entry{
			Name:   name,
			Format: string(enc.OutputFormat()),
			Size:   snap.Size,
			Params: snap.Params,
			Filter: snap.Filter,
			Data:   buf.Bytes(),
		})
		if err != nil {
			s.log().Warn("failed to archive export", "session", sess.id, "error", err)
		} else {
			c.Header("X-Archive-Name", name)
		}
	}

	c.Header("Content-Disposition", attachment(enc.FileName()))
	c.Header("Cache-Control", s.cfg.CacheControl)
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

// postRender runs a one-shot edit: multipart image plus adjustment fields, file back.
func (s *Server) postRender(c *gin.Context) {
	data, err := s.readUpload(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	params := tone.DefaultParams()
	for _, f := range []struct {
		dst  *int
		name string
	}{
		{&params.Brightness, "brightness"},
		{&params.Contrast, "contrast"},
		{&params.Saturation, "saturation"},
	} {
		if v := c.PostForm(f.name); v != "" {
			if *f.dst, err = strconv.Atoi(v); err != nil {
				s.fail(c, fmt.Errorf("invalid %s %q: %w", f.name, v, types.ErrInvalidParameter))
				return
			}
		}
	}
	kind, err := filter.ParseKind(c.PostForm("filter"))
	if err != nil {
		s.fail(c, err)
		return
	}
	enc, err := s.encoderFor(c.PostForm("format"), c.PostForm("quality"))
	if err != nil {
		s.fail(c, err)
		return
	}

	p, err := pipeline.New(pipeline.Options{Logger: s.log(), Params: &params, Filter: kind})
	if err != nil {
		s.fail(c, err)
		return
	}
	defer p.Close()

	s.totalUploads.Add(1)
	if err := <-s.track(p.Upload(c.Request.Context(), data)); err != nil {
		s.fail(c, err)
		return
	}
	s.totalRenders.Add(1)

	var buf bytes.Buffer
	if err := p.Export(&buf, enc); err != nil {
		s.fail(c, err)
		return
	}
	s.totalExports.Add(1)

	c.Header("Content-Disposition", attachment(enc.FileName()))
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

func (s *Server) encoderFor(format, quality string) (codec.Encoder, error) {
	enc := s.cfg.Encoder
	if format != "" {
		f, err := codec.ParseFormat(format)
		if err != nil {
			return enc, err
		}
		enc.Format = f
	}
	if quality != "" {
		q, err := strconv.Atoi(quality)
		if err != nil || q < 1 || q > 100 {
			return enc, fmt.Errorf("invalid quality %q: %w", quality, types.ErrInvalidParameter)
		}
		enc.JPEGQuality = q
	}
	return enc, nil
}

func (s *Server) getExports(c *gin.Context) {
	if s.cfg.Archive == nil {
		s.fail(c, errArchiveDisabled)
		return
	}
	entries, err := s.cfg.Archive.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exports": entries})
}

func (s *Server) getArchivedExport(c *gin.Context) {
	if s.cfg.Archive == nil {
		s.fail(c, errArchiveDisabled)
		return
	}
	entry, err := s.cfg.Archive.Get(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Content-Disposition", attachment(entry.Name))
	c.Data(http.StatusOK, codec.Format(entry.Format).ContentType(), entry.Data)
}

// attachment builds a Content-Disposition value with a properly quoted file name.
func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func respond(sess *session) sessionResponse {
	return sessionResponse{ID: sess.id, Snapshot: sess.pipeline.Snapshot()}
}
