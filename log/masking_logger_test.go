/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package log_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartlabs/go-gatewaykit/log"
	"github.com/cartlabs/go-gatewaykit/log/logtest"
)

func TestMaskingLoggerMasksMessageAndFields(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks))

	logger.Info(`login failed: {"password":"hunter2"}`,
		log.String("url", "https://gw.example.com/v1/session?access_token=abc123"),
		log.Error(errors.New(`bad response: {"refresh_token":"r-456"}`)),
	)

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, `login failed: {"password": "***"}`, entries[0].Text)

	urlField, found := entries[0].FindField("url")
	require.True(t, found)
	require.Equal(t, "https://gw.example.com/v1/session?access_token=***", string(urlField.Bytes))

	errField, found := entries[0].FindField("error")
	require.True(t, found)
	loggedErr, ok := errField.Any.(error)
	require.True(t, ok)
	require.Equal(t, `bad response: {"refresh_token": "***"}`, loggedErr.Error())
}

func TestMaskingLoggerKeepsCleanFields(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks))

	logger.Warn("slow request", log.String("target", "catalog/products"), log.Int("attempt", 2))

	entry, found := recorder.FindEntry("slow request")
	require.True(t, found)
	targetField, found := entry.FindField("target")
	require.True(t, found)
	require.Equal(t, "catalog/products", string(targetField.Bytes))
}
