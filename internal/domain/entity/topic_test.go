package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicGroup_ArticleCount(t *testing.T) {
	g := &TopicGroup{Articles: []TopicMember{{ArticleID: 1}, {ArticleID: 2}}}
	assert.Equal(t, 2, g.ArticleCount())
}

func TestTopicGroup_Validate(t *testing.T) {
	t.Run("rejects missing topic id", func(t *testing.T) {
		g := &TopicGroup{Articles: []TopicMember{{ArticleID: 1}, {ArticleID: 2}}}
		err := g.Validate(2)
		require.Error(t, err)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "TopicID", ve.Field)
	})

	t.Run("rejects group below minimum size", func(t *testing.T) {
		g := &TopicGroup{TopicID: "t1", Articles: []TopicMember{{ArticleID: 1}}}
		err := g.Validate(2)
		require.Error(t, err)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "Articles", ve.Field)
	})

	t.Run("accepts a group meeting the minimum size", func(t *testing.T) {
		g := &TopicGroup{
			TopicID:  "t1",
			Articles: []TopicMember{{ArticleID: 1}, {ArticleID: 2}, {ArticleID: 3}},
		}
		assert.NoError(t, g.Validate(2))
	})
}
