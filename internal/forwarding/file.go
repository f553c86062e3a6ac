package forwarding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// FileSink připisuje data do souboru (JSON řádky nebo CSV).
// Formát parquet zapisuje každou dávku do vlastního souboru vedle filePath.
type FileSink struct {
	path   string
	format string
	now    func() time.Time
}

// NewFileSink vytvoří souborový cíl.
func NewFileSink(path, format string) *FileSink {
	return &FileSink{path: path, format: format, now: time.Now}
}

func (s *FileSink) Send(ctx context.Context, readings []model.Reading) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("nelze vytvořit adresář pro %s: %w", s.path, err)
	}
	switch s.format {
	case model.FormatParquet:
		return writeParquet(ParquetPath(s.path, s.now()), readings)
	case model.FormatCSV:
		return s.appendCSV(readings)
	default:
		data, err := EncodeJSONLines(readings)
		if err != nil {
			return err
		}
		return appendFile(s.path, data)
	}
}

func (s *FileSink) appendCSV(readings []model.Reading) error {
	header := false
	if info, err := os.Stat(s.path); err != nil || info.Size() == 0 {
		header = true
	}
	data, err := EncodeCSV(readings, header)
	if err != nil {
		return err
	}
	return appendFile(s.path, data)
}

func (s *FileSink) Close() error { return nil }

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("nelze otevřít %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("nelze zapsat do %s: %w", path, err)
	}
	return f.Close()
}

// ParquetPath vrací cestu souboru dávky: <základ>_<čas UTC>.parquet
func ParquetPath(base string, t time.Time) string {
	base = strings.TrimSuffix(base, ".parquet")
	return fmt.Sprintf("%s_%s.parquet", base, t.UTC().Format("20060102T150405.000Z"))
}

// ParquetRow je schéma řádku parquet výstupu.
type ParquetRow struct {
	DeviceID      int64  `parquet:"name=device_id, type=INT64"`
	DeviceName    string `parquet:"name=device_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DatapointID   string `parquet:"name=datapoint_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	DatapointName string `parquet:"name=datapoint_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Value         string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func writeParquet(path string, readings []model.Reading) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("nelze vytvořit %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("nelze vytvořit parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range readings {
		row := ParquetRow{
			DeviceID:      r.DeviceID,
			DeviceName:    r.DeviceName,
			DatapointID:   r.DatapointID,
			DatapointName: r.DatapointName,
			Value:         r.Value,
			Timestamp:     r.Timestamp.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("chyba zápisu parquet: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("chyba uzavření parquet: %w", err)
	}
	return fw.Close()
}
