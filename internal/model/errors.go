package model

import "errors"

var ErrBrokerUnavailable = errors.New("broker unavailable")
