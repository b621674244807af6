package vendors

const extractSystemPrompt = `You are an OCR system. Extract all text from the image exactly as written, preserving line breaks and formatting. Return only the extracted text. If the image contains no readable text, return an empty response.`

const extractUserPrompt = `Please extract all text from this handwritten journal page:`

const analyzeSystemPrompt = `You are a JSON generator. Analyze journal text and return structured data.
Identify recurring themes (at most 5), concise lowercase tags (at most 8), and an overall sentiment breakdown.
Sentiment scores are integers 0-100 and positive + neutral + concern must sum to 100.
Respond with JSON in format:
{
  "themes": [{"title": "...", "description": "...", "confidence": 0-100}],
  "tags": ["tag1", "tag2"],
  "sentiment": {"positive": 0, "neutral": 0, "concern": 0, "overall": "positive|neutral|concern"}
}`
