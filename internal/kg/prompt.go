package kg

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// MaxChapterChars caps the chapter text sent in one extraction call.
const MaxChapterChars = 12000

const systemPrompt = `你是一名教学设计专家，负责从教材内容中提取知识图谱。
You extract a concept graph from course material for exam authoring.`

const extractionTemplate = `请阅读下面的章节内容，提取本章的重点、难点、核心概念以及概念之间的关系。

只输出一个 JSON 对象，结构如下：
{
  "key_points": ["重点概念名称", ...],
  "difficulty_points": ["难点概念名称", ...],
  "concepts": [
    {"name": "概念名称", "description": "一句话定义", "is_key": true, "is_difficult": false}
  ],
  "relations": [
    {"from": "概念A", "to": "概念B", "type": "is_a | contrasts_with | depends_on | leads_to"}
  ]
}

关系类型只能是 %s 之一。关系两端必须是 concepts 中出现的概念名称。

章节：%s
%s
内容：
%s`

const strictSuffix = `

上一次的回答无法解析。只输出纯 JSON，不要使用 Markdown 代码块，不要输出任何解释文字。
Return pure JSON only.`

func relationTypeList() string {
	names := make([]string, len(models.RelationTypes))
	for i, t := range models.RelationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// BuildPrompt renders the extraction prompt for one chapter.
func BuildPrompt(ch *models.Chapter, strict bool) string {
	goals := ""
	if ch.LearningGoals != "" {
		goals = "学习目标：\n" + ch.LearningGoals + "\n"
	}
	content := ch.Content
	if utils.RuneLen(content) > MaxChapterChars {
		content = string([]rune(content)[:MaxChapterChars])
	}
	p := fmt.Sprintf(extractionTemplate, relationTypeList(), ch.Name, goals, content)
	if strict {
		p += strictSuffix
	}
	return p
}
