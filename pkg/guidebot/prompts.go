package guidebot

import "github.com/calque-ai/guidebot/pkg/middleware/prompt"

// DefaultOrganization is the company named in the system prompt.
const DefaultOrganization = "REMO"

// Labels the classifier answers with for the two special requests.
const (
	LabelLogo = "logo_request"
	LabelTOC  = "toc_request"
)

// Fixed user-facing texts.
const (
	MessageLogoNotFound = "회사 로고 파일을 찾을 수 없습니다."
	MessageTOCError     = "목차 정보를 불러오는 중 오류가 발생했습니다: %v"
	MessageRetry        = "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."

	// noMatchContext stands in for the grounding text when retrieval finds nothing.
	noMatchContext = "(관련 규정을 찾지 못했습니다.)"
)

var classifyTemplate = prompt.MustParse(
	"다음 질문에 대해, 만약 질문이 회사 로고 요청(예: '회사의 로고를 제공해 줘')에 해당하면 'logo_request', " +
		"만약 질문이 회사 내규의 목차를 보여달라는 요청(예: '회사 내규의 목차를 보여줘')에 해당하면 'toc_request'를 출력하고, " +
		"그렇지 않다면 질문에서 가장 핵심적인 단어(예: '연차', '근로수당' 등)를 한 단어로 출력하세요.\n" +
		"질문: {{.Input}}\n" +
		"답변:")

var systemTemplate = prompt.MustParse(
	"당신은 회사 '{{.Organization}}'의 임직원들에게 회사 내규에 대해 답변해 주는 비서 역할입니다. " +
		"회사 내규에 관련된 질문이 아니라면, 일반적인 답변을 해 주면서 회사 내규와 관련된 질문을 해 달라고 유도하세요. " +
		"회사 내규에 관련된 질문이라면, 사용자의 질문 뒤에 관련 내규 문서가 첨부됩니다. 해당 내규 문서들의 내용 중, 질문과 관련있는 내용들을 참고해서 답변해 주세요. " +
		"관련 회사 내규 규정은 다음과 같습니다.\n규정:{{.Context}}\n\n" +
		"규정이 사용자의 질문과 관련이 없다면, 더 자세한 질문을 유도하세요." +
		"답변에 어떤 규정을 참고했는지 출처를 첨부해야 합니다. " +
		"규정 양식은 답변의 마지막에 '출처: 제oo조(규정 종류)' 와 같은 형식으로 제공해 주세요." +
		"규정을 참고해서, 임직원들에게 도움이 될 수 있는 답변을 해 주세요!")

var tocTemplate = prompt.MustParse(
	"아래의 JSON 형식 목차 데이터를 보기 좋은 텍스트 형태로 정리해 주세요.\n\n" +
		"JSON 데이터:\n{{.TOC}}\n\n" +
		"사용자가 쉽게 이해할 수 있도록 깔끔한 형식으로 정리해 주세요.")
