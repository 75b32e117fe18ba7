package datasets

import (
	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
)

// CheckOptions rejects data options outside known.
func CheckOptions(options *config.Mapping, known ...string) error {
	if unknown := options.Unknown(known...); len(unknown) > 0 {
		return errors.Wrapf(config.ErrConfig, "%s: unknown options %v", config.FragmentDataConfig, unknown)
	}
	return nil
}
