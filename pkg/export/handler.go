package export

import (
	"fmt"
	"net/http"

	"github.com/nicktill/adoptboard/pkg/dataset"
	log "github.com/sirupsen/logrus"
)

// Filename returns the attachment name for an export made now.
func (e *Exporter) Filename(format string) string {
	return fmt.Sprintf("adoptboard-export-%s.%s", e.now().Format("20060102-150405"), format)
}

// Serve writes v as a download. The format must already be validated with
// ParseFormat. Headers are sent before the body, so a failure midway can only
// be logged.
func (e *Exporter) Serve(w http.ResponseWriter, v *dataset.View, format string) error {
	w.Header().Set("Content-Type", ContentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", e.Filename(format)))

	result, err := e.Write(w, v, format)
	if err != nil {
		log.WithError(err).WithField("format", format).Error("Export failed")
		return err
	}

	log.WithFields(log.Fields{
		"rows":   result.RowsExported,
		"format": format,
	}).Info("Exported view")
	return nil
}
