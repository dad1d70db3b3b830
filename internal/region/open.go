//go:build linux

package region

import "github.com/CXLMemUring/Splash/internal/logging"

// Config controls how a region is acquired.
type Config struct {
	// Size is used when no device reports its own size (huge-page and
	// anonymous fallbacks).
	Size uint64
	// Logger receives one diagnostic line per acquisition attempt.
	Logger *logging.Logger
}

// Open acquires a region following the acquisition order: device-DAX, then
// the CXL memory-class bus, then huge-page anonymous mapping, then a plain
// anonymous mapping. The first strategy that succeeds wins.
func Open(cfg Config) (Provider, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Default("region")
	}

	if p, err := openDevDAX(); err == nil {
		log.Info("region acquired", logging.String("kind", p.Kind()), logging.Uint64("size", p.Size()))
		return p, nil
	} else {
		log.Debug("device-dax unavailable", logging.Err(err))
	}

	if p, err := openCXL(); err == nil {
		log.Info("region acquired", logging.String("kind", p.Kind()), logging.Uint64("size", p.Size()))
		return p, nil
	} else {
		log.Debug("cxl bus unavailable", logging.Err(err))
	}

	if p, err := openHugePage(cfg.Size); err == nil {
		log.Info("region acquired", logging.String("kind", p.Kind()), logging.Uint64("size", p.Size()))
		return p, nil
	} else {
		log.Debug("huge-page mapping unavailable", logging.Err(err))
	}

	p, err := openAnon(cfg.Size)
	if err != nil {
		return nil, err
	}
	log.Info("region acquired", logging.String("kind", p.Kind()), logging.Uint64("size", p.Size()))
	return p, nil
}
