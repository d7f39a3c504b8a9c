package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type overrideInput struct {
	WorkspaceID  string `json:"workspace_id" validate:"required,uuid"`
	ResourceType string `json:"resource_type" validate:"required,oneof=topic virtual_cluster service_account"`
	Limit        int    `json:"limit" validate:"gte=0,lte=10000"`
	Note         string `validate:"max=8"`
}

func TestValidateStruct(t *testing.T) {
	valid := overrideInput{
		WorkspaceID:  uuid.NewString(),
		ResourceType: "topic",
		Limit:        100,
	}

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&valid))
	})

	tests := []struct {
		name   string
		mutate func(*overrideInput)
		field  string
		msg    string
	}{
		{"missing workspace", func(in *overrideInput) { in.WorkspaceID = "" }, "workspace_id", "workspace_id is required"},
		{"bad uuid", func(in *overrideInput) { in.WorkspaceID = "nope" }, "workspace_id", "workspace_id must be a valid UUID"},
		{"unknown resource type", func(in *overrideInput) { in.ResourceType = "schema" }, "resource_type", "resource_type must be one of: topic virtual_cluster service_account"},
		{"negative limit", func(in *overrideInput) { in.Limit = -1 }, "limit", "limit must be greater than or equal to 0"},
		{"limit too large", func(in *overrideInput) { in.Limit = 10001 }, "limit", "limit must be less than or equal to 10000"},
		{"untagged field keeps go name", func(in *overrideInput) { in.Note = "far too long" }, "Note", "Note must be at most 8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)

			err := ValidateStruct(&in)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			fields := GetValidationFields(err)
			assert.Equal(t, tt.msg, fields[tt.field])
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := ValidateStruct(&overrideInput{Limit: -5})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)

	assert.Equal(t, "Validation failed", validationErr.Message)
	assert.Contains(t, validationErr.Fields, "workspace_id")
	assert.Contains(t, validationErr.Fields, "resource_type")
	assert.Contains(t, validationErr.Fields, "limit")
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"reason": "reason is required"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "test", Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestParseUUID(t *testing.T) {
	id := uuid.New()

	got, err := ParseUUID(" "+id.String()+" ", "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUID("42", "workspace_id")
	require.Error(t, err)
	assert.Equal(t, "invalid workspace_id", err.Error())
	assert.Equal(t, "workspace_id must be a valid UUID", GetValidationFields(err)["workspace_id"])
}
