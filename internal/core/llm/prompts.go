package llm

// Prompts are Russian-first: the digest audience reads Russian, and the
// models follow structural instructions in either language equally well.
// JSON-answer prompts end with an English "Answer ONLY with valid JSON"
// line plus the exact schema, which measurably reduces malformed output.

const unifiedAnalysisSystemPrompt = `Ты — редактор новостного агрегатора. Ты анализируешь статьи точно и отвечаешь строго в формате JSON без пояснений.`

const unifiedAnalysisPrompt = `Проанализируй новостную статью и выполни пять задач.

СТАТЬЯ
Заголовок: %s
URL: %s
Текст: %s

ЗАДАЧИ:
1. Оптимизируй заголовок: информативный, без кликбейта и эмодзи, до 120 символов, на языке оригинала.
2. Определи темы статьи. Сначала назови 1-3 описательные темы своими словами (original_categories), затем сопоставь каждую с общей категорией из списка: Политика, Экономика, Технологии, Наука, Спорт, Культура, Происшествия, Общество, Сербия (categories). Для каждой категории укажи уверенность от 0 до 1.
3. Напиши краткое содержание СВОИМИ СЛОВАМИ на русском языке: 3-5 предложений, минимум 60 символов, только факты из статьи, без копирования текста дословно.
4. Определи, является ли статья рекламой или продвижением (реклама, промокод, партнёрский материал, призыв купить или подписаться). Укажи тип (affiliate_marketing, promotion, subscription_promo, product_promotion), уверенность и краткое обоснование.
5. Найди дату публикации статьи, если она явно упомянута в тексте. Формат YYYY-MM-DD, иначе null.

Answer ONLY with valid JSON:
{"optimized_title": "...", "original_categories": ["..."], "categories": ["..."], "category_confidences": [0.9], "summary": "...", "summary_confidence": 0.9, "is_advertisement": false, "ad_type": null, "ad_confidence": 0.0, "ad_reasoning": "...", "publication_date": null, "confidence": 0.0, "content_quality": 0.8}`

const summaryRetryPrompt = `Предыдущее краткое содержание было слишком коротким или дословно копировало текст статьи. Напиши новое краткое содержание СТРОГО СВОИМИ СЛОВАМИ на русском языке: 3-5 предложений, минимум 60 символов, только факты.

Заголовок: %s
Текст: %s

Ответь только текстом краткого содержания, без JSON и без пояснений.`

const digestCompressionPrompt = `Сожми готовый новостной дайджест так, чтобы он поместился в %d символов, сохранив HTML-разметку.

ПРАВИЛА:
- Сохрани заголовок "%s" и структуру по категориям.
- Сохрани HTML-теги (<b>, <i>, <a href="...">) и эмодзи категорий без изменений.
- Сокращай формулировки новостей, но не выбрасывай категории целиком.
- Если пришлось убрать часть новостей, добавь к заголовку пометку "СЖАТО".
- Не добавляй новых фактов и не меняй ссылки.

ДАЙДЖЕСТ:
%s

Ответь только сжатым дайджестом, без пояснений.`

const categorySummaryPrompt = `Создай краткую сводку новостей для категории "%s" на русском языке.

НОВОСТИ:
%s

ПРАВИЛА:
- Максимум 3-4 предложения связного текста, без списков и перечислений заголовков.
- Начинай с "В сфере %s".
- Только факты из приведённых новостей, без ссылок и HTML.`

const dateExtractionPrompt = `Найди дату публикации статьи в тексте ниже. Ищи явные упоминания даты: рядом с заголовком, в подписи автора, в метаданных. Не угадывай дату по содержанию событий.

URL: %s
Текст: %s

Answer ONLY with valid JSON:
{"date_found": false, "publication_date": "YYYY-MM-DD", "confidence": 0.0, "source": "byline|metadata|text", "raw_text": "..."}`

const linkExtractionPrompt = `Ниже фрагмент HTML страницы со списком новостей или анонсом. Найди ссылку на ПОЛНУЮ версию статьи "%s". Ищи ссылки с текстом вида "читать далее", "подробнее", "read more" или заголовок-ссылку самой статьи.

Базовый URL: %s
HTML: %s

Answer ONLY with valid JSON:
{"link_found": false, "full_article_url": "...", "confidence": 0.0, "link_text": "...", "selector": "..."}`

const selectorDiscoveryPrompt = `Ниже фрагмент HTML статьи с сайта %s. Назови до 3 CSS-селекторов, которые выбирают основной текст статьи (не меню, не комментарии, не рекламу). Селекторы должны быть максимально простыми и устойчивыми: по тегу article, по классу или id контейнера текста.

HTML: %s

Answer ONLY with valid JSON:
{"selectors": ["article", ".post-content"]}`
