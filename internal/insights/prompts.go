package insights

import "github.com/jmsrpp/btp-cap-genai-rag/internal/generate"

var insightTemplate = generate.Template{
	System: `You analyse incoming customer support mails and give insights about them.
Suggested action values should be taken from this list where one fits: {action_values}.
{format_instructions}`,
	Human: "{subject}\n{body}",
}

var languageTemplate = generate.Template{
	System: `Determine the language of the incoming mail and whether it matches the working language {working_language}.
{format_instructions}`,
	Human: "{body}",
}

var responseTemplate = generate.Template{
	System: `Write a response to the customer mail below. Use the additional information given after the mail if there is any.
Address the sender appropriately and write the response in {working_language}.
{format_instructions}`,
	Human: "{sender}\n{subject}\n{body}\n{additional_information}",
}

var ragResponseTemplate = generate.Template{
	System: `Responses the support team sent to similar mails are given below.
---------------------
{context}
---------------------
Write a response to the customer mail using this context. Prefer the context over prior knowledge
and also use the additional information given after the mail if there is any.
Address the sender appropriately and write the response in {working_language}.
{format_instructions}`,
	Human: "{sender}\n{subject}\n{body}\n{additional_information}",
}

var attributesTemplate = generate.Template{
	System: `Extract information related to the attributes below from the mail. For every attribute return its name
and the value that corresponds most closely to the mail. When an attribute lists admissible values, return one of them.
If nothing can be extracted for an attribute, return 'No information provided'.
Attributes:
{attributes}
{format_instructions}`,
	Human: "{sender}\n{subject}\n{body}",
}

var translationTemplate = generate.Template{
	System: `Translate every value of the incoming JSON object into {language}. Keep the keys and the order of list entries.
{format_instructions}`,
	Human: "{insights}",
}

var responseTranslationTemplate = generate.Template{
	System: `Translate the following response of the customer support into {language}.
{format_instructions}`,
	Human: "{response}",
}
