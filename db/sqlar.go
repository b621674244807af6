package db

import (
	"bytes"
	"compress/zlib"
	"io"
	"time"
)

// SqlarStore stores a file in SQLAR format with zlib compression
func (d *DB) SqlarStore(name string, data []byte, mode int) error {
	if mode == 0 {
		mode = 0644
	}

	var compressed bytes.Buffer
	writer := zlib.NewWriter(&compressed)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	writer.Close()

	mtime := time.Now().Unix()
	originalSize := len(data)

	_, err := d.Run(`
		INSERT OR REPLACE INTO sqlar (name, mode, mtime, sz, data)
		VALUES (?, ?, ?, ?, ?)
	`, name, mode, mtime, originalSize, compressed.Bytes())
	if err != nil {
		return err
	}

	logger.Debug().
		Str("name", name).
		Int("originalSize", originalSize).
		Int("compressedSize", compressed.Len()).
		Msg("stored file in sqlar")
	return nil
}

// SqlarGet retrieves and decompresses a file from SQLAR,
// returning nil when the file is not present
func (d *DB) SqlarGet(name string) []byte {
	var compressedData []byte
	var sz int
	err := d.conn.QueryRow("SELECT data, sz FROM sqlar WHERE name = ?", name).Scan(&compressedData, &sz)
	if err != nil {
		logger.Debug().Str("name", name).Msg("file not found in sqlar")
		return nil
	}

	reader, err := zlib.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		logger.Error().Err(err).Str("name", name).Msg("failed to create zlib reader")
		return nil
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		logger.Error().Err(err).Str("name", name).Msg("failed to decompress data")
		return nil
	}

	return decompressed
}

// SqlarDelete removes a file from SQLAR
func (d *DB) SqlarDelete(name string) error {
	_, err := d.Run("DELETE FROM sqlar WHERE name = ?", name)
	return err
}
