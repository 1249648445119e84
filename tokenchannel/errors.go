package tokenchannel

import "github.com/go-errors/errors"

var errUnknownOperation = errors.New("tokenchannel: unknown wire operation in batch")
