package scraper

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const chromeCrxURL = "https://clients2.google.com/service/update2/crx" +
	"?response=redirect&prodversion=120.0&acceptformat=crx2,crx3&x=id%%3D%s%%26uc"

// fetchPermissions downloads the extension package from the Chrome
// update service and reads the manifest permission lists. The detail
// page never exposes permissions, so this is the only source for them.
func (s *chromeScraper) fetchPermissions(ctx context.Context, id string) ([]string, error) {
	status, body, err := s.c.get(ctx, fmt.Sprintf(s.crxURL, id), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, status)
	}

	payload, err := stripCrxHeader(body)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open package archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		raw, err := io.ReadAll(io.LimitReader(rc, 1<<20))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		return manifestPermissions(raw)
	}

	return nil, fmt.Errorf("%w: package has no manifest.json", ErrUpstreamFormat)
}

// stripCrxHeader returns the zip payload embedded in a CRX container.
// CRX3 is magic + version + header length + header; CRX2 is magic +
// version + key length + signature length + key + signature.
func stripCrxHeader(data []byte) ([]byte, error) {
	if len(data) < 16 || !bytes.Equal(data[:4], []byte("Cr24")) {
		return nil, fmt.Errorf("%w: not a CRX container", ErrUpstreamFormat)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	var offset uint64
	switch version {
	case 2:
		keyLen := uint64(binary.LittleEndian.Uint32(data[8:12]))
		sigLen := uint64(binary.LittleEndian.Uint32(data[12:16]))
		offset = 16 + keyLen + sigLen
	case 3:
		headerLen := uint64(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12 + headerLen
	default:
		return nil, fmt.Errorf("%w: unsupported CRX version %d", ErrUpstreamFormat, version)
	}

	if offset >= uint64(len(data)) {
		return nil, fmt.Errorf("%w: truncated CRX container", ErrUpstreamFormat)
	}
	return data[offset:], nil
}

// manifestPermissions flattens the permissions and host_permissions
// manifest lists, skipping structured entries like usbDevices filters.
func manifestPermissions(raw []byte) ([]string, error) {
	var manifest struct {
		Permissions     []json.RawMessage `json:"permissions"`
		HostPermissions []json.RawMessage `json:"host_permissions"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrUpstreamFormat, err)
	}

	var perms []string
	for _, entry := range append(manifest.Permissions, manifest.HostPermissions...) {
		var p string
		if err := json.Unmarshal(entry, &p); err == nil {
			perms = append(perms, p)
		}
	}
	return perms, nil
}
